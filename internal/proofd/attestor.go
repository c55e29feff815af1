package proofd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lazydev-zone/lazydev/pkg/types"
)

const maxAttestationSize = 4 << 20

// ResponseMatch selects the part of the provider response that the proof
// commits to.
type ResponseMatch struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// FetchRequest describes the provider call to attest. Private headers are
// hidden from the resulting proof.
type FetchRequest struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	PublicHeaders   map[string]string `json:"public_headers,omitempty"`
	PrivateHeaders  map[string]string `json:"private_headers,omitempty"`
	ResponseMatches []ResponseMatch   `json:"response_matches"`
}

// ProviderError reports a non-2xx answer from the attested provider.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.Status)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.Status, e.Message)
}

// Attestor produces a zkTLS proof of a provider response.
type Attestor interface {
	Attest(ctx context.Context, app App, req FetchRequest) (types.RawProof, error)
}

// HTTPAttestor talks to a zk-fetch worker over HTTP. The worker performs the
// TLS session with the provider and returns the signed claim.
type HTTPAttestor struct {
	baseURL    string
	httpClient *http.Client
}

type attestRequest struct {
	ApplicationID     string `json:"application_id"`
	ApplicationSecret string `json:"application_secret"`
	FetchRequest
}

type attestResponse struct {
	ProofData      types.RawProof `json:"proofData"`
	ProviderStatus int            `json:"provider_status,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// NewHTTPAttestor creates an attestor client for the worker at baseURL.
func NewHTTPAttestor(baseURL string, timeout time.Duration) *HTTPAttestor {
	return &HTTPAttestor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Attest implements Attestor.
func (a *HTTPAttestor) Attest(ctx context.Context, app App, fr FetchRequest) (types.RawProof, error) {
	data, err := json.Marshal(attestRequest{
		ApplicationID:     app.ID,
		ApplicationSecret: app.Secret,
		FetchRequest:      fr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attestation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/zk-fetch", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attestor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAttestationSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read attestor response: %w", err)
	}

	var out attestResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && out.ProviderStatus != 0 {
			return nil, &ProviderError{Status: out.ProviderStatus, Message: out.Error}
		}
		return nil, fmt.Errorf("attestor error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to parse attestor response: %w", decodeErr)
	}
	if len(out.ProofData) == 0 || string(out.ProofData) == "null" {
		return nil, errors.New("attestor response has no proofData")
	}
	return out.ProofData, nil
}
