// chain/client.go — escrow contract client.
//
// The contract is a black-box ledger: this client funds nothing itself, it
// verifies funding receipts, triggers verify-and-payout / refund, and reads
// bounty slots. It never recomputes balances; it reacts to receipts, events
// and contract state.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Function/event surface of the escrow contract. Fixed; the contract's
// internal storage layout is none of our business.
const escrowABI = `[
  {"type":"function","name":"fundBounty","stateMutability":"payable","inputs":[{"name":"bountyId","type":"uint256"},{"name":"counterparty","type":"address"},{"name":"referrer","type":"address"}],"outputs":[]},
  {"type":"function","name":"verifyBounty","stateMutability":"nonpayable","inputs":[{"name":"bountyId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"refundBounty","stateMutability":"nonpayable","inputs":[{"name":"bountyId","type":"uint256"},{"name":"backer","type":"address"}],"outputs":[]},
  {"type":"function","name":"getBounty","stateMutability":"view","inputs":[{"name":"bountyId","type":"uint256"}],"outputs":[{"name":"staker","type":"address"},{"name":"counterparty","type":"address"},{"name":"referrer","type":"address"},{"name":"amount","type":"uint256"},{"name":"state","type":"uint8"}]},
  {"type":"event","name":"BountyFunded","inputs":[{"name":"bountyId","type":"uint256","indexed":true},{"name":"staker","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"BountyVerified","inputs":[{"name":"bountyId","type":"uint256","indexed":true},{"name":"creatorPayout","type":"uint256","indexed":false},{"name":"discoveryRake","type":"uint256","indexed":false},{"name":"activeRake","type":"uint256","indexed":false},{"name":"platformRake","type":"uint256","indexed":false}]},
  {"type":"event","name":"BountyRefunded","inputs":[{"name":"bountyId","type":"uint256","indexed":true},{"name":"recipient","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]}
]`

// On-chain bounty slot states as the contract reports them.
const (
	SlotStateNone     uint8 = 0
	SlotStateFunded   uint8 = 1
	SlotStateVerified uint8 = 2
	SlotStateRefunded uint8 = 3
)

var (
	ErrTxNotFound          = errors.New("escrow: transaction not found")
	ErrTxFailed            = errors.New("escrow: transaction reverted")
	ErrFundingEventMissing = errors.New("escrow: no BountyFunded event in receipt")
	ErrIDMismatch          = errors.New("escrow: funding event bounty id does not match record")
	ErrAmountMismatch      = errors.New("escrow: funding event amount does not match record")
	ErrSlotNotFunded       = errors.New("escrow: bounty slot not funded")
	ErrAlreadySettled      = errors.New("escrow: bounty already verified on-chain")
	ErrAlreadyRefunded     = errors.New("escrow: bounty already refunded on-chain")
)

// FundingEvent is the decoded BountyFunded log.
type FundingEvent struct {
	BountyID *big.Int
	Staker   common.Address
	Amount   *big.Int
	TxHash   string
}

// OnChainBounty mirrors the getBounty view.
type OnChainBounty struct {
	Staker       common.Address
	Counterparty common.Address
	Referrer     common.Address
	Amount       *big.Int
	State        uint8
}

// Ledger is the subset of escrow operations the settlement paths need.
// EscrowClient implements it against a real node; tests use a fake.
type Ledger interface {
	VerifyFunding(ctx context.Context, txHash string, expectedID *big.Int, expectedAmount *big.Int) (*FundingEvent, error)
	VerifyAndPayout(ctx context.Context, id *big.Int) (string, error)
	Refund(ctx context.Context, id *big.Int, backer common.Address) (string, error)
	GetBounty(ctx context.Context, id *big.Int) (*OnChainBounty, error)
	EscrowBalance(ctx context.Context) (*big.Int, error)
	OperatorGasBalance(ctx context.Context) (*big.Int, error)
}

// ethBackend is the slice of the Ethereum RPC surface we consume.
type ethBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

const settlementGasLimit = 300_000

// EscrowClient talks to the escrow contract through an Ethereum node.
type EscrowClient struct {
	backend     ethBackend
	contract    common.Address
	abi         abi.ABI
	chainID     *big.Int
	operatorKey *ecdsa.PrivateKey
	operator    common.Address

	fundedTopic common.Hash
}

// NewEscrowClient wires a client over an existing backend. operatorKey signs
// verify/refund transactions; nil is allowed for read-only use (tests,
// status queries) and privileged calls then fail closed.
func NewEscrowClient(backend ethBackend, contract common.Address, chainID *big.Int, operatorKey *ecdsa.PrivateKey) (*EscrowClient, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow ABI: %w", err)
	}
	c := &EscrowClient{
		backend:     backend,
		contract:    contract,
		abi:         parsed,
		chainID:     chainID,
		operatorKey: operatorKey,
		fundedTopic: parsed.Events["BountyFunded"].ID,
	}
	if operatorKey != nil {
		c.operator = crypto.PubkeyToAddress(operatorKey.PublicKey)
	}
	return c, nil
}

// NewEscrowClientFromEnv dials the node and loads the operator key from the
// environment. Missing config is fatal — the service must not run with a
// guessed ledger endpoint or without the key that authorizes settlements.
func NewEscrowClientFromEnv(ctx context.Context) *EscrowClient {
	rpcURL := os.Getenv("ESCROW_RPC_URL")
	if rpcURL == "" {
		log.Fatal("ESCROW_RPC_URL environment variable is required")
	}
	contractHex := os.Getenv("ESCROW_CONTRACT_ADDRESS")
	if !common.IsHexAddress(contractHex) {
		log.Fatal("ESCROW_CONTRACT_ADDRESS environment variable is missing or not a valid address")
	}
	keyHex := strings.TrimPrefix(os.Getenv("ESCROW_OPERATOR_KEY"), "0x")
	if keyHex == "" {
		log.Fatal("ESCROW_OPERATOR_KEY environment variable is required for settlement transactions")
	}
	operatorKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		log.Fatal("ESCROW_OPERATOR_KEY is not a valid secp256k1 private key: ", err)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		log.Fatal("failed to dial escrow RPC endpoint: ", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		log.Fatal("failed to read chain id from escrow RPC endpoint: ", err)
	}

	client, err := NewEscrowClient(eth, common.HexToAddress(contractHex), chainID, operatorKey)
	if err != nil {
		log.Fatal("failed to initialize escrow client: ", err)
	}
	log.Printf("✅ Escrow client ready (contract %s, operator %s, chain %s)", client.contract.Hex(), client.operator.Hex(), chainID)
	return client
}

// Operator returns the settlement signer address.
func (c *EscrowClient) Operator() common.Address { return c.operator }

// VerifyFunding fetches the funding transaction receipt and decodes the
// BountyFunded event emitted by the escrow contract. Every check fails
// closed: a reverted transaction, a missing event, or an identifier/amount
// mismatch aborts with no state adopted.
func (c *EscrowClient) VerifyFunding(ctx context.Context, txHash string, expectedID *big.Int, expectedAmount *big.Int) (*FundingEvent, error) {
	hash := common.HexToHash(txHash)
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("fetch receipt %s: %w", txHash, err)
	}
	if receipt == nil {
		return nil, ErrTxNotFound
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, ErrTxFailed
	}

	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != c.contract {
			continue
		}
		if len(lg.Topics) < 3 || lg.Topics[0] != c.fundedTopic {
			continue
		}
		event := &FundingEvent{
			BountyID: new(big.Int).SetBytes(lg.Topics[1].Bytes()),
			Staker:   common.BytesToAddress(lg.Topics[2].Bytes()),
			Amount:   new(big.Int).SetBytes(lg.Data),
			TxHash:   txHash,
		}
		if expectedID != nil && event.BountyID.Cmp(expectedID) != 0 {
			return nil, ErrIDMismatch
		}
		if expectedAmount != nil && event.Amount.Cmp(expectedAmount) != 0 {
			return nil, ErrAmountMismatch
		}
		return event, nil
	}
	return nil, ErrFundingEventMissing
}

// GetBounty reads the bounty slot from the contract.
func (c *EscrowClient) GetBounty(ctx context.Context, id *big.Int) (*OnChainBounty, error) {
	data, err := c.abi.Pack("getBounty", id)
	if err != nil {
		return nil, fmt.Errorf("pack getBounty: %w", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getBounty: %w", err)
	}
	values, err := c.abi.Unpack("getBounty", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getBounty: %w", err)
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("unexpected getBounty output arity: %d", len(values))
	}
	bounty := &OnChainBounty{
		Staker:       values[0].(common.Address),
		Counterparty: values[1].(common.Address),
		Referrer:     values[2].(common.Address),
		Amount:       values[3].(*big.Int),
		State:        values[4].(uint8),
	}
	return bounty, nil
}

// VerifyAndPayout triggers the contract's payout for a bounty. Reading the
// slot state first makes retries safe: an already-verified slot is reported
// as ErrAlreadySettled so callers can treat the retry as a no-op instead of
// double-submitting.
func (c *EscrowClient) VerifyAndPayout(ctx context.Context, id *big.Int) (string, error) {
	slot, err := c.GetBounty(ctx, id)
	if err != nil {
		return "", err
	}
	switch slot.State {
	case SlotStateVerified:
		return "", ErrAlreadySettled
	case SlotStateRefunded:
		return "", ErrAlreadyRefunded
	case SlotStateNone:
		return "", ErrSlotNotFunded
	}
	data, err := c.abi.Pack("verifyBounty", id)
	if err != nil {
		return "", fmt.Errorf("pack verifyBounty: %w", err)
	}
	return c.sendSigned(ctx, data)
}

// Refund returns escrowed funds to the backer. Same retry semantics as
// VerifyAndPayout.
func (c *EscrowClient) Refund(ctx context.Context, id *big.Int, backer common.Address) (string, error) {
	slot, err := c.GetBounty(ctx, id)
	if err != nil {
		return "", err
	}
	switch slot.State {
	case SlotStateRefunded:
		return "", ErrAlreadyRefunded
	case SlotStateVerified:
		return "", ErrAlreadySettled
	case SlotStateNone:
		return "", ErrSlotNotFunded
	}
	data, err := c.abi.Pack("refundBounty", id, backer)
	if err != nil {
		return "", fmt.Errorf("pack refundBounty: %w", err)
	}
	return c.sendSigned(ctx, data)
}

// EscrowBalance reports the contract's total held balance, used by the
// reconciliation worker as a settlement prerequisite.
func (c *EscrowClient) EscrowBalance(ctx context.Context) (*big.Int, error) {
	return c.backend.BalanceAt(ctx, c.contract, nil)
}

// OperatorGasBalance reports the settlement signer's gas reserve.
func (c *EscrowClient) OperatorGasBalance(ctx context.Context) (*big.Int, error) {
	if c.operatorKey == nil {
		return nil, errors.New("escrow: operator key not configured")
	}
	return c.backend.BalanceAt(ctx, c.operator, nil)
}

func (c *EscrowClient) sendSigned(ctx context.Context, calldata []byte) (string, error) {
	if c.operatorKey == nil {
		return "", errors.New("escrow: operator key not configured, refusing privileged call")
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	tx := gethtypes.NewTransaction(nonce, c.contract, big.NewInt(0), settlementGasLimit, gasPrice, calldata)
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.operatorKey)
	if err != nil {
		return "", fmt.Errorf("sign settlement tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		// A timeout here is an unknown outcome, not a failure: the next
		// reconciliation pass re-reads the slot state before retrying.
		return "", fmt.Errorf("send settlement tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}
