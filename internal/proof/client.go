// Package proof requests zkTLS attestations from the proof gateway.
package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

const defaultTimeout = 2 * time.Minute

// UserProofRequest is the body of POST /proof-user.
type UserProofRequest struct {
	AccessToken string `json:"accessToken"`
}

// PrProofRequest is the body of POST /proof-pr.
type PrProofRequest struct {
	Org    string `json:"org"`
	Repo   string `json:"repo"`
	PullID string `json:"pullId"`
}

// RepoOwnerProofRequest is the body of POST /proof-repo-owner.
type RepoOwnerProofRequest struct {
	RepoOwner      string `json:"repoOwner"`
	Repo           string `json:"repo"`
	GithubUsername string `json:"githubUsername"`
	AccessToken    string `json:"accessToken"`
}

// Response is the success body of every proof endpoint.
type Response struct {
	ProofData types.RawProof `json:"proofData"`
}

// ErrorResponse is the failure body of every proof endpoint.
type ErrorResponse struct {
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Client calls the proof gateway. Each call is a single request; failures
// are returned as *apperrors.UpstreamProofError and never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a proof client for the gateway at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RequestUserProof proves the GitHub identity behind token.
func (c *Client) RequestUserProof(ctx context.Context, token string) (types.RawProof, error) {
	if token == "" {
		return nil, &apperrors.AuthError{Missing: "GitHub access token"}
	}
	return c.post(ctx, "/proof-user", UserProofRequest{AccessToken: token})
}

// RequestRepoOwnerProof proves username's permission on owner/repo.
func (c *Client) RequestRepoOwnerProof(ctx context.Context, owner, repo, username, token string) (types.RawProof, error) {
	if token == "" {
		return nil, &apperrors.AuthError{Missing: "GitHub access token"}
	}
	if owner == "" || repo == "" || username == "" {
		return nil, apperrors.Validation("repo owner proof", "owner, repo and username are required")
	}
	return c.post(ctx, "/proof-repo-owner", RepoOwnerProofRequest{
		RepoOwner:      owner,
		Repo:           repo,
		GithubUsername: username,
		AccessToken:    token,
	})
}

// RequestPrProof proves the state of pull request org/repo#pullID.
func (c *Client) RequestPrProof(ctx context.Context, org, repo string, pullID uint64) (types.RawProof, error) {
	if org == "" || repo == "" || pullID == 0 {
		return nil, apperrors.Validation("pr proof", "org, repo and pull id are required")
	}
	return c.post(ctx, "/proof-pr", PrProofRequest{
		Org:    org,
		Repo:   repo,
		PullID: strconv.FormatUint(pullID, 10),
	})
}

func (c *Client) post(ctx context.Context, path string, body any) (types.RawProof, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proof request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read proof response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &apperrors.UpstreamProofError{
			Status: resp.StatusCode,
			Code:   apperrors.ProofCodeForStatus(resp.StatusCode),
		}
		var er ErrorResponse
		if json.Unmarshal(respBody, &er) == nil {
			perr.Description = er.ErrorDescription
		}
		return nil, perr
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse proof response: %w", err)
	}
	if len(out.ProofData) == 0 || string(out.ProofData) == "null" {
		return nil, fmt.Errorf("proof response has no proofData")
	}
	return out.ProofData, nil
}
