package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

const defaultBridgeTimeout = 2 * time.Minute

// AuthSigner produces the X-Wallet-* header values that authenticate this
// client to the bridge. *identity.Wallet implements it.
type AuthSigner interface {
	SignAuth() (address, signature, message string, err error)
}

// BridgeOptions configures a BridgeSigner.
type BridgeOptions struct {
	URL      string
	ChainID  string
	Sender   string // resolved from the bridge by Connect when empty
	GasPrice string // e.g. "0.025untrn"
	Timeout  time.Duration
	Auth     AuthSigner
}

// BridgeSigner signs through a local wallet bridge: a process holding the
// chain key (a browser extension host or a keyring daemon) that exposes
// execute and instantiate over HTTP.
type BridgeSigner struct {
	baseURL    string
	chainID    string
	sender     string
	gasPrice   string
	auth       AuthSigner
	httpClient *http.Client
}

type executeRequest struct {
	ChainID      string        `json:"chain_id"`
	Sender       string        `json:"sender"`
	Instructions []Instruction `json:"instructions"`
	GasPrice     string        `json:"gas_price,omitempty"`
}

type instantiateRequest struct {
	ChainID string `json:"chain_id"`
	Sender  string `json:"sender"`
	InstantiateRequest
	GasPrice string `json:"gas_price,omitempty"`
}

type broadcastResponse struct {
	TxHash          string `json:"tx_hash"`
	Height          uint64 `json:"height,omitempty"`
	GasUsed         uint64 `json:"gas_used,omitempty"`
	Code            uint32 `json:"code"`
	RawLog          string `json:"raw_log"`
	ContractAddress string `json:"contract_address,omitempty"`
}

type accountResponse struct {
	Address string `json:"address"`
}

// NewBridgeSigner creates a bridge signer.
func NewBridgeSigner(opts BridgeOptions) (*BridgeSigner, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("wallet bridge URL is required")
	}
	if opts.ChainID == "" {
		return nil, fmt.Errorf("chain id is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultBridgeTimeout
	}
	return &BridgeSigner{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		chainID:    opts.ChainID,
		sender:     opts.Sender,
		gasPrice:   opts.GasPrice,
		auth:       opts.Auth,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Connect enables the chain on the bridge and resolves the sender account
// when none was configured.
func (b *BridgeSigner) Connect(ctx context.Context) error {
	var acct accountResponse
	if err := b.do(ctx, http.MethodGet, "/v1/account?chain_id="+url.QueryEscape(b.chainID), nil, &acct); err != nil {
		return fmt.Errorf("failed to connect to wallet bridge: %w", err)
	}
	if acct.Address == "" {
		return &apperrors.AuthError{Missing: "wallet account for chain " + b.chainID}
	}
	if b.sender != "" && b.sender != acct.Address {
		return fmt.Errorf("wallet bridge signs for %s, configured sender is %s", acct.Address, b.sender)
	}
	b.sender = acct.Address
	return nil
}

// Sender returns the signing account.
func (b *BridgeSigner) Sender() string {
	return b.sender
}

// Execute implements Signer.
func (b *BridgeSigner) Execute(ctx context.Context, contract string, msg any) (types.TxResult, error) {
	return b.ExecuteMultiple(ctx, []Instruction{{Contract: contract, Msg: msg}})
}

// ExecuteMultiple implements Signer. All instructions go into one transaction.
func (b *BridgeSigner) ExecuteMultiple(ctx context.Context, instructions []Instruction) (types.TxResult, error) {
	if b.sender == "" {
		return types.TxResult{}, &apperrors.AuthError{Missing: "connected wallet"}
	}
	if len(instructions) == 0 {
		return types.TxResult{}, apperrors.Validation("instructions", "at least one is required")
	}

	var resp broadcastResponse
	err := b.do(ctx, http.MethodPost, "/v1/execute", executeRequest{
		ChainID:      b.chainID,
		Sender:       b.sender,
		Instructions: instructions,
		GasPrice:     b.gasPrice,
	}, &resp)
	if err != nil {
		return types.TxResult{}, err
	}
	if resp.Code != 0 {
		return types.TxResult{TxHash: resp.TxHash}, apperrors.ClassifyRejection(resp.RawLog)
	}

	logging.Debug("transaction broadcast",
		logging.TxHash(resp.TxHash),
		"instructions", len(instructions))
	return types.TxResult{TxHash: resp.TxHash, Height: resp.Height, GasUsed: resp.GasUsed}, nil
}

// Instantiate implements Signer and returns the new contract address.
func (b *BridgeSigner) Instantiate(ctx context.Context, req InstantiateRequest) (string, types.TxResult, error) {
	if b.sender == "" {
		return "", types.TxResult{}, &apperrors.AuthError{Missing: "connected wallet"}
	}
	if req.CodeID == 0 || req.Label == "" {
		return "", types.TxResult{}, apperrors.Validation("instantiate", "code id and label are required")
	}

	var resp broadcastResponse
	err := b.do(ctx, http.MethodPost, "/v1/instantiate", instantiateRequest{
		ChainID:            b.chainID,
		Sender:             b.sender,
		InstantiateRequest: req,
		GasPrice:           b.gasPrice,
	}, &resp)
	if err != nil {
		return "", types.TxResult{}, err
	}
	if resp.Code != 0 {
		return "", types.TxResult{TxHash: resp.TxHash}, apperrors.ClassifyRejection(resp.RawLog)
	}
	return resp.ContractAddress, types.TxResult{TxHash: resp.TxHash, Height: resp.Height, GasUsed: resp.GasUsed}, nil
}

// do performs a bridge request and decodes the JSON response into out.
// Requests are signed with the local wallet when one is configured.
func (b *BridgeSigner) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if b.auth != nil {
		addr, sig, msg, err := b.auth.SignAuth()
		if err != nil {
			return fmt.Errorf("failed to sign request: %w", err)
		}
		req.Header.Set("X-Wallet-Address", addr)
		req.Header.Set("X-Wallet-Signature", sig)
		req.Header.Set("X-Wallet-Message", msg)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wallet bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(respBody, &errResp) == nil {
			if errResp.Error != "" {
				msg = errResp.Error
			} else if errResp.Message != "" {
				msg = errResp.Message
			}
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &apperrors.AuthError{Missing: "wallet bridge authorization (" + msg + ")"}
		case http.StatusUnprocessableEntity:
			// simulation failed: the contract refused the message
			return apperrors.ClassifyRejection(msg)
		}
		return fmt.Errorf("wallet bridge error (%d): %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
