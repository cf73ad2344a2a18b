// dare-settlement-system/services/oracle_client.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// OracleClient talks to the external verification service (the referee).
// The engine submits (bounty id, proof reference) and reacts to the
// approve/reject decision pushed back to the oracle webhook — it never
// second-guesses the decision.
type OracleClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type OracleSubmission struct {
	BountyID string `json:"bounty_id"`
	ProofRef string `json:"proof_ref"`
}

type OracleSubmitResponse struct {
	ReviewID string `json:"review_id"`
	Status   string `json:"status"`
}

func NewOracleClient(baseURL, token string) *OracleClient {
	return &OracleClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SubmitForReview hands a proof to the oracle. A failure here is transient:
// the submission stays in pending_review and can be re-sent.
func (c *OracleClient) SubmitForReview(bountyID, proofRef string) (*OracleSubmitResponse, error) {
	url := fmt.Sprintf("%s/api/v1/reviews", c.BaseURL)

	jsonData, _ := json.Marshal(OracleSubmission{BountyID: bountyID, ProofRef: proofRef})

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		log.Printf("Oracle /reviews returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("oracle submission failed: %d", resp.StatusCode)
	}

	var out OracleSubmitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
