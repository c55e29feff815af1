package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/chain"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/metrics"
	"github.com/lazydev-zone/lazydev/internal/signer"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

// Prover requests pull request proofs. *proof.Client implements it.
type Prover interface {
	RequestPrProof(ctx context.Context, org, repo string, pullID uint64) (types.RawProof, error)
}

// Outcome is how a claim ended, as shown to the user.
type Outcome string

const (
	OutcomeClaimed        Outcome = "claimed"
	OutcomeAlreadyClaimed Outcome = "already_claimed"
	OutcomeIneligible     Outcome = "ineligible"
	OutcomeFailed         Outcome = "failed"
)

// OutcomeOf classifies the result of a claim.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeClaimed
	case apperrors.RejectionKindOf(err) == apperrors.RejectAlreadyClaimed:
		return OutcomeAlreadyClaimed
	case apperrors.RejectionKindOf(err) == apperrors.RejectIneligible:
		return OutcomeIneligible
	default:
		return OutcomeFailed
	}
}

// Claimer submits reward_pr transactions. The contract derives the amount
// and recipient from the proof and the repo config; the claimer supplies
// neither.
type Claimer struct {
	chain   Chain
	prover  Prover
	signer  signer.Signer
	metrics *metrics.Recorder
}

// NewClaimer creates a Claimer. s may be nil for read-only use; claims then
// fail with an AuthError.
func NewClaimer(c Chain, p Prover, s signer.Signer, rec *metrics.Recorder) *Claimer {
	if s != nil {
		s = signer.Serialize(s)
	}
	return &Claimer{chain: c, prover: p, signer: s, metrics: rec}
}

// ClaimResult is a successful claim.
type ClaimResult struct {
	PrURL  string
	TxHash string
	Height uint64
}

// Claim proves and claims the reward of one merged pull request. A malformed
// URL fails before any network call.
func (c *Claimer) Claim(ctx context.Context, prURL string) (*ClaimResult, error) {
	ref, err := parsePrURL(prURL)
	if err != nil {
		return nil, err
	}
	if c.signer == nil || c.signer.Sender() == "" {
		return nil, &apperrors.AuthError{Missing: "connected wallet"}
	}

	proof, err := c.prover.RequestPrProof(ctx, ref.Repo.Org, ref.Repo.Repo, ref.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to request PR proof: %w", err)
	}

	res, err := c.submit(ctx, prURL, []signer.Instruction{rewardInstruction(c.chain.ContractAddress(), proof)})
	if err != nil {
		return nil, err
	}
	return &ClaimResult{PrURL: ref.URL(), TxHash: res.TxHash, Height: res.Height}, nil
}

// BatchResult is the outcome of ClaimAll.
type BatchResult struct {
	TxHash  string
	Claimed []string
	Failed  map[string]error // per PR URL, for PRs left out of the batch
}

// ClaimAll claims several pull requests in one signed transaction. Proofs
// are requested one at a time; a PR whose URL or proof fails is left out of
// the batch and reported in Failed. If no proof succeeds nothing is signed.
func (c *Claimer) ClaimAll(ctx context.Context, prURLs []string) (*BatchResult, error) {
	if c.signer == nil || c.signer.Sender() == "" {
		return nil, &apperrors.AuthError{Missing: "connected wallet"}
	}

	result := &BatchResult{Failed: make(map[string]error)}
	var (
		instructions []signer.Instruction
		included     []string
	)
	for _, raw := range prURLs {
		ref, err := parsePrURL(raw)
		if err != nil {
			result.Failed[raw] = err
			continue
		}
		proof, err := c.prover.RequestPrProof(ctx, ref.Repo.Org, ref.Repo.Repo, ref.Number)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.Warn("skipping PR without proof", logging.PrURL(raw), logging.Err(err))
			result.Failed[raw] = fmt.Errorf("failed to request PR proof: %w", err)
			continue
		}
		instructions = append(instructions, rewardInstruction(c.chain.ContractAddress(), proof))
		included = append(included, ref.URL())
	}
	if len(instructions) == 0 {
		return result, errors.New("no valid proofs to claim")
	}

	res, err := c.submit(ctx, fmt.Sprintf("%d pull requests", len(included)), instructions)
	if err != nil {
		return result, err
	}
	result.TxHash = res.TxHash
	result.Claimed = included
	return result, nil
}

// Eligibility asks the contract whether a pull request can be rewarded to githubUserID.
func (c *Claimer) Eligibility(ctx context.Context, prURL string, githubUserID uint64) (types.PrEligibility, error) {
	ref, err := parsePrURL(prURL)
	if err != nil {
		return "", err
	}
	return c.chain.PrEligibility(ctx, ref.Repo, ref.Number, githubUserID)
}

func (c *Claimer) submit(ctx context.Context, subject string, instructions []signer.Instruction) (types.TxResult, error) {
	res, err := c.signer.ExecuteMultiple(ctx, instructions)
	if err == nil {
		_, err = c.chain.WaitForInclusion(ctx, res.TxHash)
	}
	c.metrics.Transaction("reward_pr", err)

	audit := logging.TxAudit{
		Operation: "reward_pr",
		Sender:    c.signer.Sender(),
		Subject:   subject,
		TxHash:    res.TxHash,
		Result:    "success",
	}
	if err != nil {
		audit.Result = "failure"
		audit.Details = err.Error()
	}
	logging.Audit(audit)

	if err != nil {
		return res, fmt.Errorf("failed to claim reward: %w", err)
	}
	return res, nil
}

func rewardInstruction(contract string, proof types.RawProof) signer.Instruction {
	return signer.Instruction{
		Contract: contract,
		Msg:      chain.ExecuteMsg(chain.RewardPrMsg{Proof: proof}),
	}
}

func parsePrURL(raw string) (types.PullRequestRef, error) {
	ref, err := types.ParsePullRequestURL(raw)
	if err != nil {
		return ref, apperrors.Validation("prUrl", "%v", err)
	}
	return ref, nil
}
