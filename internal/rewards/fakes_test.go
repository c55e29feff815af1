package rewards

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lazydev-zone/lazydev/internal/chain"
	"github.com/lazydev-zone/lazydev/internal/github"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

const testContract = "neutron1lazydev"

type fakeChain struct {
	mu       sync.Mutex
	repos    []types.Repo
	rewardTx map[string]*chain.Tx // "org/repo#n"
	txErr    map[string]error
	panics   map[string]bool
	tokens   map[string]types.TokenInfo
	tokenErr error
	calls    atomic.Int32
}

func newFakeChain(repos ...types.Repo) *fakeChain {
	return &fakeChain{
		repos:    repos,
		rewardTx: make(map[string]*chain.Tx),
		txErr:    make(map[string]error),
		panics:   make(map[string]bool),
		tokens:   make(map[string]types.TokenInfo),
	}
}

func prKey(repo types.Repo, n uint64) string {
	return fmt.Sprintf("%s#%d", repo, n)
}

func (f *fakeChain) Repos(context.Context) ([]types.Repo, error) {
	f.calls.Add(1)
	return f.repos, nil
}

func (f *fakeChain) FindRewardTx(_ context.Context, repo types.Repo, prID uint64) (*chain.Tx, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[prKey(repo, prID)] {
		panic("malformed tx_search response")
	}
	if err := f.txErr[prKey(repo, prID)]; err != nil {
		return nil, err
	}
	return f.rewardTx[prKey(repo, prID)], nil
}

func (f *fakeChain) TokenInfo(_ context.Context, token string) (types.TokenInfo, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return types.TokenInfo{}, f.tokenErr
	}
	info, ok := f.tokens[token]
	if !ok {
		return info, fmt.Errorf("token %s returned no token_info", token)
	}
	return info, nil
}

func (f *fakeChain) PrEligibility(_ context.Context, repo types.Repo, prID, userID uint64) (types.PrEligibility, error) {
	f.calls.Add(1)
	if f.rewardTx[prKey(repo, prID)] != nil {
		return types.PrClaimed, nil
	}
	return types.PrEligible, nil
}

func (f *fakeChain) WaitForInclusion(_ context.Context, hash string) (*chain.Tx, error) {
	f.calls.Add(1)
	return &chain.Tx{Hash: hash, Height: 200}, nil
}

func (f *fakeChain) ContractAddress() string {
	return testContract
}

// rewardTx builds a transaction with one wasm-reward event per amount.
func rewardTx(hash, denom string, amounts ...string) *chain.Tx {
	tx := &chain.Tx{Hash: hash, Height: 150}
	tx.Events = append(tx.Events, chain.Event{Type: "wasm", Attributes: []chain.EventAttribute{
		{Key: "_contract_address", Value: testContract},
		{Key: "action", Value: "reward_pr"},
	}})
	for _, a := range amounts {
		tx.Events = append(tx.Events, chain.Event{Type: chain.RewardEventType, Attributes: []chain.EventAttribute{
			{Key: "_contract_address", Value: "neutron1minter"},
			{Key: "denom", Value: denom},
			{Key: "amount", Value: a},
		}})
	}
	return tx
}

type fakeSearcher struct {
	prs   []github.PullRequest
	err   error
	calls atomic.Int32
}

func (f *fakeSearcher) SearchClosedPRs(_ context.Context, author string, repos []types.Repo) ([]github.PullRequest, error) {
	f.calls.Add(1)
	return f.prs, f.err
}

func pr(repo types.Repo, n uint64) github.PullRequest {
	return github.PullRequest{
		Repo:      repo,
		Number:    n,
		Title:     fmt.Sprintf("change %d", n),
		HTMLURL:   fmt.Sprintf("https://github.com/%s/pull/%d", repo, n),
		State:     "closed",
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

type fakeProver struct {
	mu    sync.Mutex
	fail  map[uint64]error
	calls []uint64
}

func (p *fakeProver) RequestPrProof(_ context.Context, org, repo string, pullID uint64) (types.RawProof, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pullID)
	if err := p.fail[pullID]; err != nil {
		return nil, err
	}
	return types.RawProof(fmt.Sprintf(`{"org":%q,"repo":%q,"pull":%d}`, org, repo, pullID)), nil
}

func (p *fakeProver) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
