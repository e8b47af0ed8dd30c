/**
 * @description
 * This package provides a client for the Circle developer-controlled wallets API.
 * It encapsulates authenticated HTTP requests for wallet sets, wallets and USDC
 * transfers, and parses Circle's response envelopes.
 *
 * @dependencies
 * - github.com/google/uuid: idempotency keys for mutating requests.
 */
package circleclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is a client for the Circle API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Circle API client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ErrorResponse represents an error from the Circle API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("circle api error %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("circle api error %d", e.StatusCode)
}

// Wallet is a Circle developer-controlled wallet.
type Wallet struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Blockchain  string `json:"blockchain"`
	WalletSetID string `json:"walletSetId"`
	AccountType string `json:"accountType"`
	State       string `json:"state"`
}

type createWalletSetRequest struct {
	IdempotencyKey         string `json:"idempotencyKey"`
	Name                   string `json:"name"`
	EntitySecretCiphertext string `json:"entitySecretCiphertext"`
}

type createWalletSetResponse struct {
	Data struct {
		WalletSet struct {
			ID string `json:"id"`
		} `json:"walletSet"`
	} `json:"data"`
}

// CreateWalletsRequest is the payload for POST /wallets.
type CreateWalletsRequest struct {
	IdempotencyKey         string   `json:"idempotencyKey"`
	AccountType            string   `json:"accountType"`
	Blockchains            []string `json:"blockchains"`
	Count                  int      `json:"count"`
	WalletSetID            string   `json:"walletSetId"`
	EntitySecretCiphertext string   `json:"entitySecretCiphertext"`
}

type createWalletsResponse struct {
	Data struct {
		Wallets []Wallet `json:"wallets"`
	} `json:"data"`
}

// TransferRequest is the payload for POST /transfers.
type TransferRequest struct {
	IdempotencyKey         string       `json:"idempotencyKey"`
	Source                 TransferSide `json:"source"`
	Destination            TransferSide `json:"destination"`
	Token                  string       `json:"token"`
	Amount                 string       `json:"amount"`
	Blockchain             string       `json:"blockchain"`
	EntitySecretCiphertext string       `json:"entitySecretCiphertext"`
}

// TransferSide identifies a transfer endpoint by wallet id or raw address.
type TransferSide struct {
	WalletID string `json:"walletId,omitempty"`
	Address  string `json:"address,omitempty"`
}

type txHashHolder struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	TxHash string `json:"txHash"`
}

// TransferResponse captures the shapes Circle has used for transfer results.
type TransferResponse struct {
	Data struct {
		Transaction *txHashHolder `json:"transaction"`
		Transfer    *txHashHolder `json:"transfer"`
		ID          string        `json:"id"`
		State       string        `json:"state"`
		TxHash      string        `json:"txHash"`
	} `json:"data"`
}

// TxHash returns the first non-empty hash among the known response shapes.
func (r *TransferResponse) TxHash() string {
	if r.Data.Transaction != nil && r.Data.Transaction.TxHash != "" {
		return r.Data.Transaction.TxHash
	}
	if r.Data.Transfer != nil && r.Data.Transfer.TxHash != "" {
		return r.Data.Transfer.TxHash
	}
	return r.Data.TxHash
}

// ID returns the provider transaction id, if any.
func (r *TransferResponse) ID() string {
	if r.Data.Transaction != nil && r.Data.Transaction.ID != "" {
		return r.Data.Transaction.ID
	}
	if r.Data.Transfer != nil && r.Data.Transfer.ID != "" {
		return r.Data.Transfer.ID
	}
	return r.Data.ID
}

// CreateWalletSet creates a wallet set and returns its id.
func (c *Client) CreateWalletSet(ctx context.Context, name, ciphertext string) (string, error) {
	var resp createWalletSetResponse
	payload := createWalletSetRequest{
		IdempotencyKey:         uuid.NewString(),
		Name:                   name,
		EntitySecretCiphertext: ciphertext,
	}
	if err := c.do(ctx, "create_wallet_set", http.MethodPost, "/walletSets", payload, &resp); err != nil {
		return "", err
	}
	if resp.Data.WalletSet.ID == "" {
		return "", fmt.Errorf("circle returned an empty wallet set id")
	}
	return resp.Data.WalletSet.ID, nil
}

// CreateWallets creates wallets inside a wallet set.
func (c *Client) CreateWallets(ctx context.Context, req CreateWalletsRequest) ([]Wallet, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if req.Count == 0 {
		req.Count = 1
	}
	var resp createWalletsResponse
	if err := c.do(ctx, "create_wallets", http.MethodPost, "/wallets", req, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Wallets, nil
}

// CreateTransfer initiates a token transfer between wallets.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	var resp TransferResponse
	if err := c.do(ctx, "create_transfer", http.MethodPost, "/transfers", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes a request against /developer/v1 and decodes the success body into out.
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/developer/v1"+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=circle_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return &errResp
		}
		log.Printf("level=warn component=circle_client op=%s status=%d code=%d message=%q", op, resp.StatusCode, errResp.Code, errResp.Message)
		return &errResp
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
