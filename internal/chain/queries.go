package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/lazydev-zone/lazydev/pkg/types"
)

type smartResponse struct {
	Data json.RawMessage `json:"data"`
}

// SmartQuery runs a CosmWasm smart query against contract and decodes the
// result into out. It reports false when the contract answered null.
func (c *Client) SmartQuery(ctx context.Context, contract string, query, out any) (bool, error) {
	q, err := json.Marshal(query)
	if err != nil {
		return false, fmt.Errorf("failed to encode query: %w", err)
	}
	// The gateway accepts URL-safe base64, which keeps '/' out of the path.
	path := fmt.Sprintf("/cosmwasm/wasm/v1/contract/%s/smart/%s", contract, base64.URLEncoding.EncodeToString(q))

	var resp smartResponse
	if err := c.getJSON(ctx, c.restEndpoints, path, &resp); err != nil {
		return false, fmt.Errorf("smart query %s failed: %w", q, err)
	}
	data := bytes.TrimSpace(resp.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("failed to decode smart query result: %w", err)
		}
	}
	return true, nil
}

type empty struct{}

type githubUserQuery struct {
	GithubUserID uint64 `json:"github_user_id"`
}

type repoQuery struct {
	Repo types.Repo `json:"repo"`
}

type prEligibilityQuery struct {
	Repo         types.Repo `json:"repo"`
	PrID         uint64     `json:"pr_id"`
	GithubUserID uint64     `json:"github_user_id"`
}

// Config returns the contract's verifier and reveal window settings.
func (c *Client) Config(ctx context.Context) (types.ContractConfig, error) {
	var cfg types.ContractConfig
	found, err := c.SmartQuery(ctx, c.contract, map[string]empty{"config": {}}, &cfg)
	if err != nil {
		return cfg, err
	}
	if !found {
		return cfg, fmt.Errorf("contract %s returned no config", c.contract)
	}
	return cfg, nil
}

// LinkedAddress returns the address linked to a GitHub user id, if any.
func (c *Client) LinkedAddress(ctx context.Context, githubUserID uint64) (string, bool, error) {
	var addr string
	found, err := c.SmartQuery(ctx, c.contract,
		map[string]githubUserQuery{"linked_address": {GithubUserID: githubUserID}}, &addr)
	if err != nil || !found {
		return "", false, err
	}
	return addr, addr != "", nil
}

// UserCommitment returns the live account commitment of a GitHub user, or nil.
func (c *Client) UserCommitment(ctx context.Context, githubUserID uint64) (*types.Commitment[string], error) {
	var out types.Commitment[string]
	found, err := c.SmartQuery(ctx, c.contract,
		map[string]githubUserQuery{"user_commitment": {GithubUserID: githubUserID}}, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// RepoCommitment returns the pending config commitment of a repo, or nil.
func (c *Client) RepoCommitment(ctx context.Context, repo types.Repo) (*types.Commitment[types.RepoConfig], error) {
	var out types.Commitment[types.RepoConfig]
	found, err := c.SmartQuery(ctx, c.contract, map[string]repoQuery{"repo_commitment": {Repo: repo}}, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// RepoConfig returns the final config of a linked repo, or nil if it is not linked.
func (c *Client) RepoConfig(ctx context.Context, repo types.Repo) (*types.RepoConfig, error) {
	var out types.RepoConfig
	found, err := c.SmartQuery(ctx, c.contract, map[string]repoQuery{"repo_config": {Repo: repo}}, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// Repos lists every repo registered for rewards.
func (c *Client) Repos(ctx context.Context) ([]types.Repo, error) {
	var out []types.Repo
	if _, err := c.SmartQuery(ctx, c.contract, map[string]empty{"repos": {}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PrEligibility asks the contract whether a pull request can still be rewarded.
func (c *Client) PrEligibility(ctx context.Context, repo types.Repo, prID, githubUserID uint64) (types.PrEligibility, error) {
	var out types.PrEligibility
	_, err := c.SmartQuery(ctx, c.contract, map[string]prEligibilityQuery{
		"query_pr_eligibility": {Repo: repo, PrID: prID, GithubUserID: githubUserID},
	}, &out)
	if err != nil {
		return "", err
	}
	if !out.IsValid() {
		return "", fmt.Errorf("unexpected pr eligibility %q", out)
	}
	return out, nil
}

// TokenInfo reads cw20 metadata from a token contract.
func (c *Client) TokenInfo(ctx context.Context, token string) (types.TokenInfo, error) {
	var out types.TokenInfo
	found, err := c.SmartQuery(ctx, token, map[string]empty{"token_info": {}}, &out)
	if err != nil {
		return out, err
	}
	if !found {
		return out, fmt.Errorf("token %s returned no token_info", token)
	}
	return out, nil
}
