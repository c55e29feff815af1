// Package rewards derives which pull requests were already rewarded from the
// chain's event log and submits new reward claims.
package rewards

import (
	"context"
	"fmt"
	"math/big"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lazydev-zone/lazydev/internal/chain"
	"github.com/lazydev-zone/lazydev/internal/github"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/metrics"
	"github.com/lazydev-zone/lazydev/internal/util"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

const defaultWorkers = 8

// Chain is the subset of *chain.Client the rewards package reads.
type Chain interface {
	Repos(ctx context.Context) ([]types.Repo, error)
	FindRewardTx(ctx context.Context, repo types.Repo, prID uint64) (*chain.Tx, error)
	TokenInfo(ctx context.Context, token string) (types.TokenInfo, error)
	PrEligibility(ctx context.Context, repo types.Repo, prID, githubUserID uint64) (types.PrEligibility, error)
	WaitForInclusion(ctx context.Context, hash string) (*chain.Tx, error)
	ContractAddress() string
}

// Searcher finds a user's closed pull requests. *github.Client implements it.
type Searcher interface {
	SearchClosedPRs(ctx context.Context, author string, repos []types.Repo) ([]github.PullRequest, error)
}

// Options bounds the per-PR chain query fan-out.
type Options struct {
	Workers   int
	RateLimit float64 // chain queries per second, 0 = unlimited
	Burst     int
}

// ClaimStatus is what the chain says about one pull request.
type ClaimStatus struct {
	Claimed bool
	TxHash  string
	Rewards []types.TokenRewardInfo // nil when token metadata could not be resolved
}

// Reconciler builds a user's contribution list from GitHub and the chain.
// There is no local ledger: a PR is claimed when a reward transaction for it
// exists on chain.
type Reconciler struct {
	chain   Chain
	github  Searcher
	workers int
	limiter *rate.Limiter
	metrics *metrics.Recorder

	symbols sync.Map // token address -> symbol
}

// NewReconciler creates a Reconciler.
func NewReconciler(c Chain, gh Searcher, opts Options, rec *metrics.Recorder) *Reconciler {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.Workers
	}
	return &Reconciler{
		chain:   c,
		github:  gh,
		workers: opts.Workers,
		limiter: rate.NewLimiter(limit, opts.Burst),
		metrics: rec,
	}
}

// Contributions lists author's closed pull requests in registered repos with
// their claim status. progress, when set, first receives every PR with
// Loading set, then exactly one terminal update per PR as its status
// resolves, in no particular order. A GitHub error fails the whole call; a
// chain error only marks that PR unclaimed.
func (r *Reconciler) Contributions(ctx context.Context, author string, progress func(types.Contribution)) ([]types.Contribution, error) {
	start := time.Now()
	defer func() { r.metrics.ObserveReconcile(time.Since(start)) }()

	repos, err := r.chain.Repos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered repos: %w", err)
	}
	if len(repos) == 0 {
		logging.Debug("no registered repos, skipping search")
		return nil, nil
	}

	prs, err := r.github.SearchClosedPRs(ctx, author, repos)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	emit := func(c types.Contribution) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		progress(c)
	}

	out := make([]types.Contribution, len(prs))
	for i, pr := range prs {
		out[i] = types.Contribution{
			PrURL:       pr.HTMLURL,
			Repo:        pr.Repo.String(),
			Date:        pr.CreatedAt.UTC().Format(time.RFC3339),
			Description: pr.Title,
			Loading:     true,
		}
		emit(out[i])
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(r.workers, len(prs)); w++ {
		util.SafeGoGroup(&wg, "reconcile-worker", func() {
			for i := range jobs {
				c := r.resolveRecovered(ctx, prs[i], out[i])
				mu.Lock()
				out[i] = c
				mu.Unlock()
				emit(c)
			}
		})
	}
	for i := range prs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	logging.Info("contributions reconciled", "author", author, "prs", len(prs), "repos", len(repos))
	return out, ctx.Err()
}

// resolveRecovered is resolve with a panic degraded to unclaimed, so the
// worker keeps draining jobs and the PR still gets its terminal update.
func (r *Reconciler) resolveRecovered(ctx context.Context, pr github.PullRequest, c types.Contribution) (out types.Contribution) {
	defer func() {
		if p := recover(); p != nil {
			logging.Error("claim status resolution panicked",
				logging.PrURL(pr.HTMLURL),
				"panic", p,
				"stack", string(debug.Stack()))
			r.metrics.ReconciledPR("error")
			c.Loading = false
			out = c
		}
	}()
	return r.resolve(ctx, pr, c)
}

// resolve returns c in its terminal state. Errors degrade to unclaimed.
func (r *Reconciler) resolve(ctx context.Context, pr github.PullRequest, c types.Contribution) types.Contribution {
	c.Loading = false

	if err := r.limiter.Wait(ctx); err != nil {
		r.metrics.ReconciledPR("error")
		return c
	}
	status, err := r.CheckIfPrClaimed(ctx, pr.Repo, pr.Number)
	if err != nil {
		logging.Warn("failed to resolve claim status", logging.PrURL(pr.HTMLURL), logging.Err(err))
		r.metrics.ReconciledPR("error")
		return c
	}

	c.Claimed = status.Claimed
	c.TxHash = status.TxHash
	c.Rewards = status.Rewards
	if status.Claimed {
		r.metrics.ReconciledPR("claimed")
	} else {
		r.metrics.ReconciledPR("unclaimed")
	}
	return c
}

// CheckIfPrClaimed looks up the reward transaction of a pull request and sums
// its reward events per token. When token metadata cannot be resolved the
// PR is still reported claimed, without the reward breakdown.
func (r *Reconciler) CheckIfPrClaimed(ctx context.Context, repo types.Repo, prID uint64) (ClaimStatus, error) {
	tx, err := r.chain.FindRewardTx(ctx, repo, prID)
	if err != nil {
		return ClaimStatus{}, err
	}
	if tx == nil {
		return ClaimStatus{}, nil
	}

	status := ClaimStatus{Claimed: true, TxHash: tx.Hash}
	rewards, err := r.rewardsOf(ctx, tx)
	if err != nil {
		logging.Warn("failed to resolve reward tokens",
			logging.TxHash(tx.Hash),
			logging.Err(err))
		return status, nil
	}
	status.Rewards = rewards
	return status, nil
}

// rewardsOf sums the reward events of tx per token, in order of first appearance.
func (r *Reconciler) rewardsOf(ctx context.Context, tx *chain.Tx) ([]types.TokenRewardInfo, error) {
	var (
		order []string
		sums  = make(map[string]*big.Int)
	)
	for _, ev := range tx.EventsOfType(chain.RewardEventType) {
		denom, ok := ev.Attr("denom")
		if !ok || denom == "" {
			return nil, fmt.Errorf("reward event without denom")
		}
		raw, _ := ev.Attr("amount")
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("invalid reward amount %q", raw)
		}
		if sum, seen := sums[denom]; seen {
			sum.Add(sum, amount)
			continue
		}
		order = append(order, denom)
		sums[denom] = amount
	}

	out := make([]types.TokenRewardInfo, 0, len(order))
	for _, denom := range order {
		symbol, err := r.symbol(ctx, denom)
		if err != nil {
			return nil, err
		}
		out = append(out, types.TokenRewardInfo{
			RewardAddress: denom,
			RewardToken:   symbol,
			RewardAmount:  sums[denom],
		})
	}
	return out, nil
}

func (r *Reconciler) symbol(ctx context.Context, token string) (string, error) {
	if s, ok := r.symbols.Load(token); ok {
		return s.(string), nil
	}
	info, err := r.chain.TokenInfo(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to query token %s: %w", token, err)
	}
	r.symbols.Store(token, info.Symbol)
	return info.Symbol, nil
}
