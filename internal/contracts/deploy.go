package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/signer"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

// Code ids of the reward contracts uploaded to pion-1.
const (
	TokenMinterCodeID uint64 = 10893
	Cw20BaseCodeID    uint64 = 10880

	TokenMinterLabel = "lazydev-token-minter"
	KindToken        = "token"
)

// TokenConfig is the instantiate config of the cw20 reward minter.
type TokenConfig struct {
	Name           string       `json:"name"`
	Symbol         string       `json:"symbol"`
	Decimals       uint8        `json:"decimals"`
	Cw20BaseCodeID uint64       `json:"cw20_base_code_id"`
	ValidOrgs      []string     `json:"valid_orgs"`
	ValidRepos     []types.Repo `json:"valid_repos"`
}

type tokenInstantiateMsg struct {
	Config         TokenConfig `json:"config"`
	LazydevAddress string      `json:"lazydev_address"`
}

// DeployRequest describes a cw20 reward minter to instantiate.
type DeployRequest struct {
	Name       string
	Symbol     string
	Decimals   uint8
	ValidOrgs  []string
	ValidRepos []types.Repo
	// AmountPerReward is remembered locally and becomes the label's
	// reward_config when the repo is linked.
	AmountPerReward string
	// CodeID and Cw20CodeID default to the pion-1 uploads.
	CodeID     uint64
	Cw20CodeID uint64
}

func (r DeployRequest) validate() error {
	switch {
	case r.Name == "":
		return apperrors.Validation("name", "is required")
	case len(r.Symbol) < 3 || len(r.Symbol) > 12:
		return apperrors.Validation("symbol", "must be 3 to 12 characters")
	case r.Decimals > 18:
		return apperrors.Validation("decimals", "must be at most 18")
	case len(r.ValidOrgs) == 0 && len(r.ValidRepos) == 0:
		return apperrors.Validation("valid_orgs", "at least one org or repo is required")
	}
	if r.AmountPerReward != "" {
		if n, ok := new(big.Int).SetString(r.AmountPerReward, 10); !ok || n.Sign() <= 0 {
			return apperrors.Validation("amount_per_reward", "must be a positive integer")
		}
	}
	return nil
}

// Deploy instantiates a cw20 reward minter that only lazydevAddress may
// trigger, and remembers it in the cache.
func (c *Cache) Deploy(ctx context.Context, s signer.Signer, lazydevAddress string, req DeployRequest) (types.RewardContract, error) {
	if err := req.validate(); err != nil {
		return types.RewardContract{}, err
	}
	if s == nil || s.Sender() == "" {
		return types.RewardContract{}, &apperrors.AuthError{Missing: "connected wallet"}
	}
	if req.CodeID == 0 {
		req.CodeID = TokenMinterCodeID
	}
	if req.Cw20CodeID == 0 {
		req.Cw20CodeID = Cw20BaseCodeID
	}
	if req.ValidOrgs == nil {
		req.ValidOrgs = []string{}
	}
	if req.ValidRepos == nil {
		req.ValidRepos = []types.Repo{}
	}

	addr, res, err := s.Instantiate(ctx, signer.InstantiateRequest{
		CodeID: req.CodeID,
		Label:  TokenMinterLabel,
		Msg: tokenInstantiateMsg{
			Config: TokenConfig{
				Name:           req.Name,
				Symbol:         req.Symbol,
				Decimals:       req.Decimals,
				Cw20BaseCodeID: req.Cw20CodeID,
				ValidOrgs:      req.ValidOrgs,
				ValidRepos:     req.ValidRepos,
			},
			LazydevAddress: lazydevAddress,
		},
		Admin: s.Sender(),
	})
	audit := logging.TxAudit{
		Operation: "instantiate",
		Sender:    s.Sender(),
		Subject:   req.Symbol,
		TxHash:    res.TxHash,
		Result:    "success",
	}
	if err != nil {
		audit.Result = "failure"
		audit.Details = err.Error()
	}
	logging.Audit(audit)
	if err != nil {
		return types.RewardContract{}, fmt.Errorf("failed to instantiate reward contract: %w", err)
	}

	rc := types.RewardContract{
		Address:         addr,
		CodeID:          req.CodeID,
		Kind:            KindToken,
		Label:           TokenMinterLabel,
		Name:            req.Name,
		Symbol:          req.Symbol,
		Decimals:        req.Decimals,
		AmountPerReward: req.AmountPerReward,
	}
	if len(req.ValidRepos) == 1 {
		rc.Repo = req.ValidRepos[0].String()
	}
	if err := c.Add(rc); err != nil {
		// the contract exists on chain either way
		logging.Warn("failed to cache deployed contract", "address", addr, logging.Err(err))
	}
	return c.Get(addr)
}
