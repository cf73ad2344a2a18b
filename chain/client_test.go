package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000e5")

// mockBackend serves canned receipts and call results.
type mockBackend struct {
	receipts map[common.Hash]*gethtypes.Receipt
	callOut  []byte
	callErr  error
	sent     []*gethtypes.Transaction
}

func (m *mockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	r, ok := m.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (m *mockBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(1e18), nil
}

func (m *mockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return m.callOut, m.callErr
}

func (m *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (m *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockBackend) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	m.sent = append(m.sent, tx)
	return nil
}

func newTestClient(t *testing.T, backend *mockBackend) *EscrowClient {
	t.Helper()
	client, err := NewEscrowClient(backend, testContract, big.NewInt(1337), nil)
	require.NoError(t, err)
	return client
}

func fundingLog(c *EscrowClient, contract common.Address, id *big.Int, amount *big.Int) *gethtypes.Log {
	return &gethtypes.Log{
		Address: contract,
		Topics: []common.Hash{
			c.fundedTopic,
			common.BigToHash(id),
			common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000a1"),
		},
		Data: common.BigToHash(amount).Bytes(),
	}
}

func TestVerifyFundingDecodesEvent(t *testing.T) {
	backend := &mockBackend{receipts: map[common.Hash]*gethtypes.Receipt{}}
	client := newTestClient(t, backend)

	id := DeriveBountyID("dare-001")
	amount := big.NewInt(5_000_000)
	txHash := common.HexToHash("0x01")
	backend.receipts[txHash] = &gethtypes.Receipt{
		Status: gethtypes.ReceiptStatusSuccessful,
		Logs:   []*gethtypes.Log{fundingLog(client, testContract, id, amount)},
	}

	event, err := client.VerifyFunding(context.Background(), txHash.Hex(), id, amount)
	require.NoError(t, err)
	assert.Zero(t, id.Cmp(event.BountyID))
	assert.Zero(t, amount.Cmp(event.Amount))
}

func TestVerifyFundingFailsClosed(t *testing.T) {
	backend := &mockBackend{receipts: map[common.Hash]*gethtypes.Receipt{}}
	client := newTestClient(t, backend)

	id := DeriveBountyID("dare-001")
	amount := big.NewInt(5_000_000)

	t.Run("missing transaction", func(t *testing.T) {
		_, err := client.VerifyFunding(context.Background(), common.HexToHash("0xdead").Hex(), id, amount)
		assert.ErrorIs(t, err, ErrTxNotFound)
	})

	t.Run("reverted transaction", func(t *testing.T) {
		txHash := common.HexToHash("0x02")
		backend.receipts[txHash] = &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed}
		_, err := client.VerifyFunding(context.Background(), txHash.Hex(), id, amount)
		assert.ErrorIs(t, err, ErrTxFailed)
	})

	t.Run("no funding event", func(t *testing.T) {
		txHash := common.HexToHash("0x03")
		backend.receipts[txHash] = &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful}
		_, err := client.VerifyFunding(context.Background(), txHash.Hex(), id, amount)
		assert.ErrorIs(t, err, ErrFundingEventMissing)
	})

	t.Run("event from foreign contract ignored", func(t *testing.T) {
		txHash := common.HexToHash("0x04")
		other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
		backend.receipts[txHash] = &gethtypes.Receipt{
			Status: gethtypes.ReceiptStatusSuccessful,
			Logs:   []*gethtypes.Log{fundingLog(client, other, id, amount)},
		}
		_, err := client.VerifyFunding(context.Background(), txHash.Hex(), id, amount)
		assert.ErrorIs(t, err, ErrFundingEventMissing)
	})

	t.Run("identifier mismatch", func(t *testing.T) {
		txHash := common.HexToHash("0x05")
		backend.receipts[txHash] = &gethtypes.Receipt{
			Status: gethtypes.ReceiptStatusSuccessful,
			Logs:   []*gethtypes.Log{fundingLog(client, testContract, DeriveBountyID("dare-002"), amount)},
		}
		_, err := client.VerifyFunding(context.Background(), txHash.Hex(), id, amount)
		assert.ErrorIs(t, err, ErrIDMismatch)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		txHash := common.HexToHash("0x06")
		backend.receipts[txHash] = &gethtypes.Receipt{
			Status: gethtypes.ReceiptStatusSuccessful,
			Logs:   []*gethtypes.Log{fundingLog(client, testContract, id, big.NewInt(1))},
		}
		_, err := client.VerifyFunding(context.Background(), txHash.Hex(), id, amount)
		assert.ErrorIs(t, err, ErrAmountMismatch)
	})
}

func packSlot(t *testing.T, c *EscrowClient, state uint8) []byte {
	t.Helper()
	out, err := c.abi.Methods["getBounty"].Outputs.Pack(
		common.HexToAddress("0xa1"),
		common.HexToAddress("0xa2"),
		common.HexToAddress("0xa3"),
		big.NewInt(5_000_000),
		state,
	)
	require.NoError(t, err)
	return out
}

func TestVerifyAndPayoutSlotStatePreRead(t *testing.T) {
	id := DeriveBountyID("dare-001")

	t.Run("already verified", func(t *testing.T) {
		backend := &mockBackend{}
		client := newTestClient(t, backend)
		backend.callOut = packSlot(t, client, SlotStateVerified)

		_, err := client.VerifyAndPayout(context.Background(), id)
		assert.ErrorIs(t, err, ErrAlreadySettled)
		assert.Empty(t, backend.sent)
	})

	t.Run("never funded", func(t *testing.T) {
		backend := &mockBackend{}
		client := newTestClient(t, backend)
		backend.callOut = packSlot(t, client, SlotStateNone)

		_, err := client.VerifyAndPayout(context.Background(), id)
		assert.ErrorIs(t, err, ErrSlotNotFunded)
		assert.Empty(t, backend.sent)
	})

	t.Run("funded but no operator key", func(t *testing.T) {
		backend := &mockBackend{}
		client := newTestClient(t, backend)
		backend.callOut = packSlot(t, client, SlotStateFunded)

		_, err := client.VerifyAndPayout(context.Background(), id)
		require.Error(t, err)
		assert.Empty(t, backend.sent)
	})
}

func TestRefundSlotStatePreRead(t *testing.T) {
	id := DeriveBountyID("dare-001")
	backer := common.HexToAddress("0xa1")

	backend := &mockBackend{}
	client := newTestClient(t, backend)
	backend.callOut = packSlot(t, client, SlotStateRefunded)

	_, err := client.Refund(context.Background(), id, backer)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
	assert.Empty(t, backend.sent)
}
