package linking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/chain"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/secret"
	"github.com/lazydev-zone/lazydev/internal/signer"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

// RepoStatus is the outcome of LinkRepo.
type RepoStatus string

const (
	RepoAlreadyLinked RepoStatus = "already_linked"
	RepoLinked        RepoStatus = "linked"
)

// RepoRequest asks to link a repository with a reward config.
type RepoRequest struct {
	Repo  types.Repo
	Draft types.RepoConfig
	// AcceptCommitted continues with the config already committed on chain
	// when it differs from Draft.
	AcceptCommitted bool
	// Username and Token belong to the repo admin the proofs are issued for.
	Username string
	Token    string
	// OnStep, when set, is called as the orchestrator enters each step.
	OnStep func(Step)
}

// RepoResult describes what LinkRepo did.
type RepoResult struct {
	Status       RepoStatus
	Config       types.RepoConfig
	CommitTxHash string // empty when an existing commitment was reused
	CommitHeight uint64
	LinkTxHash   string
}

// RepoLinker links repositories to their reward configs. At most one
// attempt per repo runs at a time; a concurrent attempt fails with ErrFlowBusy.
type RepoLinker struct {
	deps Deps

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewRepoLinker creates a RepoLinker.
func NewRepoLinker(deps Deps) (*RepoLinker, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Signer != nil {
		deps.Signer = signer.Serialize(deps.Signer)
	}
	return &RepoLinker{deps: deps, inFlight: make(map[string]struct{})}, nil
}

func (l *RepoLinker) acquire(subject string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inFlight[subject]; busy {
		return false
	}
	l.inFlight[subject] = struct{}{}
	return true
}

func (l *RepoLinker) release(subject string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, subject)
}

// LinkRepo commits the config when no live commitment exists, waits for the
// reveal window and reveals it with the admin's proofs. A repo that already
// has a final config returns RepoAlreadyLinked without any transaction. When
// the committed config differs from the draft and the caller has not
// accepted it, LinkRepo stops with *apperrors.ConfigDivergenceError. A live
// commitment this client holds no secret for fails with
// secret.ErrSecretNotFound and is never committed over.
func (l *RepoLinker) LinkRepo(ctx context.Context, req RepoRequest) (*RepoResult, error) {
	if err := validateRepoRequest(req); err != nil {
		return nil, err
	}
	subject := req.Repo.SubjectID()
	if !l.acquire(subject) {
		return nil, ErrFlowBusy
	}
	defer l.release(subject)

	res, err := l.linkRepo(ctx, req, subject)
	if err != nil {
		l.deps.Metrics.FlowError("repo", "link", err)
		logging.Warn("repo link failed", logging.Repo(req.Repo.String()), logging.Err(err))
	}
	return res, err
}

func validateRepoRequest(req RepoRequest) error {
	if req.Repo.Org == "" || req.Repo.Repo == "" {
		return apperrors.Validation("repo", "org and repo are required")
	}
	if !req.AcceptCommitted {
		if err := req.Draft.Validate(); err != nil {
			return apperrors.Validation("config", "%v", err)
		}
	}
	return nil
}

func (l *RepoLinker) linkRepo(ctx context.Context, req RepoRequest, subject string) (*RepoResult, error) {
	c := l.deps.Chain
	final, err := c.RepoConfig(ctx, req.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to query repo config: %w", err)
	}
	if final != nil {
		logging.Info("repo already linked", logging.Repo(req.Repo.String()))
		return &RepoResult{Status: RepoAlreadyLinked, Config: *final}, nil
	}

	if req.Token == "" {
		return nil, &apperrors.AuthError{Missing: "GitHub access token"}
	}
	if req.Username == "" {
		return nil, &apperrors.AuthError{Missing: "GitHub username"}
	}
	if l.deps.Signer == nil || l.deps.Signer.Sender() == "" {
		return nil, &apperrors.AuthError{Missing: "connected wallet"}
	}

	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query contract config: %w", err)
	}
	window := cfg.Window()
	commitment, err := c.RepoCommitment(ctx, req.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to query repo commitment: %w", err)
	}
	height, err := c.LatestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query height: %w", err)
	}

	result := &RepoResult{Status: RepoLinked}
	var committed types.RepoConfig
	if live(commitment, window, height, subject) {
		// The contract compares the revealed config to the committed one
		// field by field, so the draft only decides whether to go on.
		committed = commitment.Value
		if !committed.Equal(req.Draft) && !req.AcceptCommitted {
			return nil, &apperrors.ConfigDivergenceError{Committed: committed, Draft: req.Draft}
		}
		if err := l.ownCommitment(commitment, subject, window); err != nil {
			return nil, err
		}
		result.CommitHeight = commitment.CommitmentHeight
	} else {
		if req.AcceptCommitted {
			if err := req.Draft.Validate(); err != nil {
				return nil, apperrors.Validation("config", "no committed config to accept: %v", err)
			}
		}
		committed = req.Draft.Canonical()
		hash, commitHeight, err := l.commit(ctx, req, subject, committed, window)
		if err != nil {
			return nil, err
		}
		result.CommitTxHash = hash
		result.CommitHeight = commitHeight
	}
	result.Config = committed

	notify(req.OnStep, StepLink)
	linkHash, err := l.reveal(ctx, req, subject, committed, window, result.CommitHeight)
	if err != nil {
		return nil, err
	}
	result.LinkTxHash = linkHash

	notify(req.OnStep, StepComplete)
	l.deps.Metrics.FlowTransition("repo", string(StepLink), string(StepComplete))
	logging.Info("repo linked",
		logging.Repo(req.Repo.String()),
		logging.TxHash(linkHash))
	return result, nil
}

// live reports whether c can still be revealed. Only an absent or expired
// commitment lets LinkRepo commit on its own.
func live(c *types.Commitment[types.RepoConfig], window types.RevealWindow, height uint64, subject string) bool {
	if c == nil {
		return false
	}
	if window.Expired(c.CommitmentHeight, height) {
		logging.Info("repo commitment expired, committing again",
			logging.Subject(subject),
			logging.Height(c.CommitmentHeight))
		return false
	}
	return true
}

// ownCommitment checks that the locally held secret opens the live
// commitment c. Without it the reveal is impossible and the repo can only be
// committed again, as a fresh attempt, once c expires.
func (l *RepoLinker) ownCommitment(c *types.Commitment[types.RepoConfig], subject string, window types.RevealWindow) error {
	rec, err := l.deps.Secrets.Get(subject)
	if errors.Is(err, secret.ErrSecretNotFound) {
		return fmt.Errorf("live repo commitment until height %d has no local secret: %w",
			window.ClosesAt(c.CommitmentHeight), secret.ErrSecretNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read repo secret: %w", err)
	}
	if rec.CommitmentKey != c.CommitmentKey {
		return fmt.Errorf("live repo commitment until height %d was made with another secret: %w",
			window.ClosesAt(c.CommitmentHeight), secret.ErrSecretNotFound)
	}
	if rec.CommitHeight == 0 {
		if err := secret.MarkCommitted(l.deps.Secrets, subject, rec.TxHash, c.CommitmentHeight); err != nil {
			logging.Warn("failed to record commit height", logging.Subject(subject), logging.Err(err))
		}
	}
	return nil
}

// commit broadcasts commit_repo for config and waits for its inclusion.
func (l *RepoLinker) commit(ctx context.Context, req RepoRequest, subject string, config types.RepoConfig, window types.RevealWindow) (string, uint64, error) {
	notify(req.OnStep, StepCommit)
	s, err := secret.Generate()
	if err != nil {
		return "", 0, err
	}
	rec := secret.NewRecord(subject, s, window)
	if err := l.deps.Secrets.Put(rec); err != nil {
		return "", 0, fmt.Errorf("failed to store secret: %w", err)
	}

	res, err := execute(ctx, l.deps, req.Repo.String(), chain.CommitRepoMsg{
		CommitmentKey: rec.CommitmentKey,
		Config:        config,
		Repo:          req.Repo,
	})
	if err != nil {
		if notBroadcast(err) {
			_ = l.deps.Secrets.Delete(subject)
		} else {
			logging.Warn("repo commit outcome unknown, keeping secret",
				logging.Subject(subject),
				logging.Err(err))
		}
		return "", 0, fmt.Errorf("failed to commit repo config: %w", err)
	}
	rec.TxHash = res.TxHash
	if err := l.deps.Secrets.Put(rec); err != nil {
		return "", 0, fmt.Errorf("failed to store secret: %w", err)
	}
	l.deps.Metrics.FlowTransition("repo", string(StepCommit), string(StepWaiting))

	notify(req.OnStep, StepWaiting)
	tx, err := l.deps.Chain.WaitForInclusion(ctx, res.TxHash)
	if err != nil {
		if apperrors.RejectionKindOf(err) != "" {
			_ = l.deps.Secrets.Delete(subject)
		}
		return res.TxHash, 0, fmt.Errorf("repo commitment not included: %w", err)
	}
	if err := secret.MarkCommitted(l.deps.Secrets, subject, tx.Hash, tx.Height); err != nil {
		return res.TxHash, 0, err
	}
	l.deps.Metrics.FlowTransition("repo", string(StepWaiting), string(StepLink))
	logging.Info("repo commitment included",
		logging.Repo(req.Repo.String()),
		logging.TxHash(tx.Hash),
		logging.Height(tx.Height))
	return res.TxHash, tx.Height, nil
}

// reveal waits for the reveal window, gathers both admin proofs and
// broadcasts link_repo with config exactly as committed.
func (l *RepoLinker) reveal(ctx context.Context, req RepoRequest, subject string, config types.RepoConfig, window types.RevealWindow, commitHeight uint64) (string, error) {
	height, err := waitForWindow(ctx, l.deps, window, commitHeight)
	if err != nil {
		return "", l.dropIfDead(subject, err)
	}
	s, err := secret.Retrieve(l.deps.Secrets, subject, height)
	if err != nil {
		return "", l.dropIfDead(subject, err)
	}

	permissions, err := l.deps.Prover.RequestRepoOwnerProof(ctx, req.Repo.Org, req.Repo.Repo, req.Username, req.Token)
	if err != nil {
		return "", fmt.Errorf("failed to request repo admin permission proof: %w", err)
	}
	user, err := l.deps.Prover.RequestUserProof(ctx, req.Token)
	if err != nil {
		return "", fmt.Errorf("failed to request repo admin user proof: %w", err)
	}

	res, err := execute(ctx, l.deps, req.Repo.String(), chain.LinkRepoMsg{
		Config:                    config,
		Repo:                      req.Repo,
		RepoAdminPermissionsProof: permissions,
		RepoAdminUserProof:        user,
		Secret:                    s.Reveal(),
	})
	if err != nil {
		return "", l.dropIfDead(subject, fmt.Errorf("failed to link repo: %w", err))
	}
	if _, err := l.deps.Chain.WaitForInclusion(ctx, res.TxHash); err != nil {
		return res.TxHash, l.dropIfDead(subject, err)
	}
	if err := l.deps.Secrets.Delete(subject); err != nil {
		logging.Warn("failed to drop revealed secret", logging.Subject(subject), logging.Err(err))
	}
	return res.TxHash, nil
}

func (l *RepoLinker) dropIfDead(subject string, err error) error {
	if mustRecommit(err) {
		_ = l.deps.Secrets.Delete(subject)
	}
	return err
}

func notify(fn func(Step), s Step) {
	if fn != nil {
		fn(s)
	}
}
