package linking

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/chain"
	"github.com/lazydev-zone/lazydev/internal/secret"
	"github.com/lazydev-zone/lazydev/internal/signer"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

const (
	testContract = "neutron1lazydev"
	testSender   = "neutron1sender"
)

// ledger is an in-memory lazydev contract. It applies the contract's
// commit and reveal rules to transactions signed through a signer.Mock and
// answers the queries the flows make.
type ledger struct {
	mu          sync.Mutex
	height      uint64
	advance     bool // WaitForHeight jumps to the target instead of blocking
	cfg         types.ContractConfig
	linked      map[uint64]string
	userCommits map[uint64]*types.Commitment[string]
	repoCommits map[types.Repo]*types.Commitment[types.RepoConfig]
	repoConfigs map[types.Repo]types.RepoConfig
	txs         map[string]*chain.Tx
	reveals     []uint64
}

func newLedger(height uint64) *ledger {
	return &ledger{
		height:      height,
		advance:     true,
		cfg:         types.ContractConfig{VerifierAddress: "neutron1verifier", CommitmentDelayMinHeight: 5, CommitmentDelayMaxHeight: 50},
		linked:      make(map[uint64]string),
		userCommits: make(map[uint64]*types.Commitment[string]),
		repoCommits: make(map[types.Repo]*types.Commitment[types.RepoConfig]),
		repoConfigs: make(map[types.Repo]types.RepoConfig),
		txs:         make(map[string]*chain.Tx),
	}
}

// signer returns a mock signer whose transactions execute against l.
func (l *ledger) signer() *signer.Mock {
	m := signer.NewMock(testSender)
	m.OnExecute = l.apply
	return m
}

func (l *ledger) setHeight(h uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height = h
}

func (l *ledger) revealHeights() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.reveals...)
}

func (l *ledger) apply(call signer.Call) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, in := range call.Instructions {
		wrapped, ok := in.Msg.(map[string]any)
		if !ok || in.Contract != testContract {
			return fmt.Errorf("unexpected instruction %#v", in)
		}
		for _, msg := range wrapped {
			if err := l.execute(msg); err != nil {
				return apperrors.ClassifyRejection(err.Error())
			}
		}
	}
	l.txs[call.Result.TxHash] = &chain.Tx{Hash: call.Result.TxHash, Height: l.height}
	l.height++
	return nil
}

func (l *ledger) execute(msg any) error {
	window := l.cfg.Window()
	switch m := msg.(type) {
	case chain.CommitAccountMsg:
		if c := l.userCommits[m.GithubUserID]; c != nil && c.CommitmentKey == m.CommitmentKey && !window.Expired(c.CommitmentHeight, l.height) {
			return fmt.Errorf("commitment key %s already exists", m.CommitmentKey)
		}
		l.userCommits[m.GithubUserID] = &types.Commitment[string]{
			CommitmentHeight: l.height,
			CommitmentKey:    m.CommitmentKey,
			Value:            m.RecipientAddress,
		}
	case chain.LinkAccountMsg:
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(m.Proof, &p); err != nil {
			return fmt.Errorf("unable to deserialize context: %v", err)
		}
		id, err := strconv.ParseUint(p.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id")
		}
		key, err := keyOf(m.Secret)
		if err != nil {
			return err
		}
		c := l.userCommits[id]
		if c == nil || c.CommitmentKey != key {
			return fmt.Errorf("commitment key %s not found", key)
		}
		l.reveals = append(l.reveals, l.height)
		if !window.Open(c.CommitmentHeight, l.height) {
			return fmt.Errorf("commitment is expired")
		}
		delete(l.userCommits, id)
		l.linked[id] = m.RecipientAddress
	case chain.CommitRepoMsg:
		l.repoCommits[m.Repo] = &types.Commitment[types.RepoConfig]{
			CommitmentHeight: l.height,
			CommitmentKey:    m.CommitmentKey,
			Value:            m.Config,
		}
	case chain.LinkRepoMsg:
		if len(m.RepoAdminPermissionsProof) == 0 || len(m.RepoAdminUserProof) == 0 {
			return fmt.Errorf("unable to deserialize context: missing proof")
		}
		key, err := keyOf(m.Secret)
		if err != nil {
			return err
		}
		c := l.repoCommits[m.Repo]
		if c == nil || c.CommitmentKey != key {
			return fmt.Errorf("commitment key %s not found", key)
		}
		l.reveals = append(l.reveals, l.height)
		if !window.Open(c.CommitmentHeight, l.height) {
			return fmt.Errorf("commitment is expired")
		}
		if !reflect.DeepEqual(c.Value, m.Config) {
			return fmt.Errorf("invalid repo commitment")
		}
		delete(l.repoCommits, m.Repo)
		l.repoConfigs[m.Repo] = m.Config
	default:
		return fmt.Errorf("unknown message %T", msg)
	}
	return nil
}

func keyOf(reveal string) (string, error) {
	s, err := secret.Parse(reveal)
	if err != nil {
		return "", err
	}
	return secret.CommitmentKey(s), nil
}

func (l *ledger) Config(context.Context) (types.ContractConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg, nil
}

func (l *ledger) LatestHeight(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height, nil
}

func (l *ledger) LinkedAddress(_ context.Context, id uint64) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, ok := l.linked[id]
	return addr, ok, nil
}

func (l *ledger) UserCommitment(_ context.Context, id uint64) (*types.Commitment[string], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.userCommits[id]; c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (l *ledger) RepoCommitment(_ context.Context, repo types.Repo) (*types.Commitment[types.RepoConfig], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.repoCommits[repo]; c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (l *ledger) RepoConfig(_ context.Context, repo types.Repo) (*types.RepoConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg, ok := l.repoConfigs[repo]; ok {
		return &cfg, nil
	}
	return nil, nil
}

// WaitForInclusion returns known transactions at once and blocks on unknown
// ones until ctx ends.
func (l *ledger) WaitForInclusion(ctx context.Context, hash string) (*chain.Tx, error) {
	l.mu.Lock()
	tx := l.txs[hash]
	l.mu.Unlock()
	if tx != nil {
		return tx, nil
	}
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %s: %w", chain.ErrNotIncluded, hash, ctx.Err())
}

func (l *ledger) ContractAddress() string {
	return testContract
}

func (l *ledger) WaitForHeight(ctx context.Context, target uint64) (uint64, error) {
	l.mu.Lock()
	if l.height >= target {
		h := l.height
		l.mu.Unlock()
		return h, nil
	}
	if l.advance {
		l.height = target
		l.mu.Unlock()
		return target, nil
	}
	h := l.height
	l.mu.Unlock()
	<-ctx.Done()
	return h, ctx.Err()
}

// prover issues fake proofs carrying the GitHub user id.
type prover struct {
	mu        sync.Mutex
	userID    uint64
	err       error
	block     chan struct{} // when set, requests wait for it to close
	entered   chan struct{}
	userCalls int
	repoCalls int
}

func (p *prover) RequestUserProof(ctx context.Context, token string) (types.RawProof, error) {
	p.mu.Lock()
	p.userCalls++
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return types.RawProof(fmt.Sprintf(`{"id":"%d"}`, p.userID)), nil
}

func (p *prover) RequestRepoOwnerProof(ctx context.Context, owner, repo, username, token string) (types.RawProof, error) {
	p.mu.Lock()
	p.repoCalls++
	err, block, entered := p.err, p.block, p.entered
	p.entered = nil
	p.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return types.RawProof(fmt.Sprintf(`{"permission":"admin","repo":"%s/%s","user":%q}`, owner, repo, username)), nil
}

func (p *prover) calls() (user, repo int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userCalls, p.repoCalls
}
