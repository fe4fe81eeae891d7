package paystack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const baseURL = "https://api.paystack.co"

// Client talks to the Paystack REST API. It initializes deposit charges
// and verifies references; crediting itself is the ledger engine's job.
type Client struct {
	secret     string
	httpClient *http.Client
}

func NewClient(secret string) *Client {
	return &Client{
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type InitializeRequest struct {
	Email       string                 `json:"email"`
	Amount      int64                  `json:"amount"`
	Reference   string                 `json:"reference"`
	Currency    string                 `json:"currency"`
	Channels    []string               `json:"channels"`
	CallbackURL string                 `json:"callback_url"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

// Initialize creates a Paystack charge and returns the authorization URL
// the payer must visit.
func (c *Client) Initialize(req InitializeRequest) (*InitializeResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest("POST", baseURL+"/transaction/initialize", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach paystack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paystack returned status %d", resp.StatusCode)
	}

	var body struct {
		Status  bool             `json:"status"`
		Message string           `json:"message"`
		Data    InitializeResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if !body.Status {
		return nil, fmt.Errorf("paystack initialization failed: %s", body.Message)
	}

	return &body.Data, nil
}

// VerifyStatus asks Paystack for the current status of a reference.
func (c *Client) VerifyStatus(reference string) (string, error) {
	req, err := http.NewRequest("GET", fmt.Sprintf("%s/transaction/verify/%s", baseURL, reference), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paystack returned status %d", resp.StatusCode)
	}

	var body struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if !body.Status {
		return "", fmt.Errorf("paystack verification failed: %s", body.Message)
	}

	return body.Data.Status, nil
}
