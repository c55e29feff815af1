package linking

import (
	"context"
	"errors"
	"fmt"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/chain"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/secret"
	"github.com/lazydev-zone/lazydev/internal/signer"
)

// State is one state of the account flow: CommitState, WaitingState,
// LinkState or CompleteState.
type State interface {
	Step() Step
}

// CommitState is the initial state: nothing usable is committed.
type CommitState struct{}

// WaitingState holds a broadcast commit that is not yet included.
type WaitingState struct {
	TxHash string
}

// LinkState holds an included commit whose secret is ready to reveal.
type LinkState struct {
	CommitHeight uint64
}

// CompleteState is terminal: the account is linked to Address.
type CompleteState struct {
	Address string
	TxHash  string // empty when the link predates this session
}

func (CommitState) Step() Step   { return StepCommit }
func (WaitingState) Step() Step  { return StepWaiting }
func (LinkState) Step() Step     { return StepLink }
func (CompleteState) Step() Step { return StepComplete }

// Account identifies who is linking and where rewards should go.
type Account struct {
	GithubUserID uint64
	AccessToken  string
	// Recipient defaults to the signer's address.
	Recipient string
}

// AccountFlow links a GitHub account to a wallet address. Each call to Step
// performs exactly one transition; nothing is retried automatically.
type AccountFlow struct {
	deps      Deps
	account   Account
	subject   string
	observers []func(from, to State)
}

// NewAccountFlow creates the flow for account. The signer is serialized so
// only one signing request is ever outstanding.
func NewAccountFlow(deps Deps, account Account) (*AccountFlow, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if account.GithubUserID == 0 {
		return nil, apperrors.Validation("github_user_id", "is required")
	}
	if deps.Signer != nil {
		deps.Signer = signer.Serialize(deps.Signer)
		if account.Recipient == "" {
			account.Recipient = deps.Signer.Sender()
		}
	}
	return &AccountFlow{
		deps:    deps,
		account: account,
		subject: secret.UserSubject(account.GithubUserID),
	}, nil
}

// OnTransition registers fn to be called after every state change.
func (f *AccountFlow) OnTransition(fn func(from, to State)) {
	f.observers = append(f.observers, fn)
}

// Linked returns the address the account is linked to, if any.
func (f *AccountFlow) Linked(ctx context.Context) (string, bool, error) {
	addr, ok, err := f.deps.Chain.LinkedAddress(ctx, f.account.GithubUserID)
	if err != nil {
		return "", false, fmt.Errorf("failed to query linked address: %w", err)
	}
	return addr, ok, nil
}

// Start derives the state to resume from. A linked account jumps straight
// to CompleteState; a live commitment matching the stored secret resumes at
// LinkState; a commit broadcast earlier but not seen on chain resumes at
// WaitingState.
func (f *AccountFlow) Start(ctx context.Context) (State, error) {
	addr, linked, err := f.Linked(ctx)
	if err != nil {
		return nil, err
	}
	if linked {
		return CompleteState{Address: addr}, nil
	}

	rec, err := f.deps.Secrets.Get(f.subject)
	if errors.Is(err, secret.ErrSecretNotFound) {
		return CommitState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stored secret: %w", err)
	}

	c, err := f.deps.Chain.UserCommitment(ctx, f.account.GithubUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user commitment: %w", err)
	}
	if c != nil && c.CommitmentKey == rec.CommitmentKey {
		cfg, err := f.deps.Chain.Config(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query contract config: %w", err)
		}
		height, err := f.deps.Chain.LatestHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query height: %w", err)
		}
		if cfg.Window().Expired(c.CommitmentHeight, height) {
			_ = f.deps.Secrets.Delete(f.subject)
			return CommitState{}, nil
		}
		if rec.CommitHeight == 0 {
			if err := secret.MarkCommitted(f.deps.Secrets, f.subject, rec.TxHash, c.CommitmentHeight); err != nil {
				return nil, err
			}
		}
		return LinkState{CommitHeight: c.CommitmentHeight}, nil
	}
	if rec.TxHash != "" && rec.CommitHeight == 0 {
		return WaitingState{TxHash: rec.TxHash}, nil
	}
	return CommitState{}, nil
}

// Step performs the transition out of s. On error the returned state is the
// one the caller should retry from: usually s itself, or CommitState when the
// commitment can no longer be revealed.
func (f *AccountFlow) Step(ctx context.Context, s State) (State, error) {
	var (
		next State
		err  error
	)
	switch st := s.(type) {
	case CommitState:
		next, err = f.commit(ctx)
	case WaitingState:
		next, err = f.wait(ctx, st)
	case LinkState:
		next, err = f.link(ctx, st)
	case CompleteState:
		return st, nil
	default:
		return s, fmt.Errorf("unknown account flow state %T", s)
	}

	if err != nil {
		f.deps.Metrics.FlowError("account", string(s.Step()), err)
		logging.Warn("account link step failed",
			logging.Subject(f.subject),
			"step", s.Step(),
			logging.Err(err))
	}
	if next.Step() != s.Step() {
		f.deps.Metrics.FlowTransition("account", string(s.Step()), string(next.Step()))
		for _, fn := range f.observers {
			fn(s, next)
		}
	}
	return next, err
}

// Run drives the flow from Start to CompleteState, stopping at the first error.
func (f *AccountFlow) Run(ctx context.Context) (State, error) {
	s, err := f.Start(ctx)
	if err != nil {
		return nil, err
	}
	for s.Step() != StepComplete {
		if s, err = f.Step(ctx, s); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (f *AccountFlow) commit(ctx context.Context) (State, error) {
	if f.deps.Signer == nil || f.account.Recipient == "" {
		return CommitState{}, &apperrors.AuthError{Missing: "connected wallet"}
	}
	cfg, err := f.deps.Chain.Config(ctx)
	if err != nil {
		return CommitState{}, fmt.Errorf("failed to query contract config: %w", err)
	}

	s, err := secret.Generate()
	if err != nil {
		return CommitState{}, err
	}
	rec := secret.NewRecord(f.subject, s, cfg.Window())
	// Persist before broadcasting: a commit whose secret is lost can never be revealed.
	if err := f.deps.Secrets.Put(rec); err != nil {
		return CommitState{}, fmt.Errorf("failed to store secret: %w", err)
	}

	res, err := execute(ctx, f.deps, f.subject, chain.CommitAccountMsg{
		CommitmentKey:    rec.CommitmentKey,
		GithubUserID:     f.account.GithubUserID,
		RecipientAddress: f.account.Recipient,
	})
	if err != nil {
		if notBroadcast(err) {
			_ = f.deps.Secrets.Delete(f.subject)
		} else {
			logging.Warn("account commit outcome unknown, keeping secret",
				logging.Subject(f.subject),
				logging.Err(err))
		}
		return CommitState{}, fmt.Errorf("failed to commit account: %w", err)
	}

	rec.TxHash = res.TxHash
	if err := f.deps.Secrets.Put(rec); err != nil {
		return CommitState{}, fmt.Errorf("failed to store secret: %w", err)
	}
	logging.Info("account commitment broadcast",
		logging.Subject(f.subject),
		logging.TxHash(res.TxHash))
	return WaitingState{TxHash: res.TxHash}, nil
}

func (f *AccountFlow) wait(ctx context.Context, st WaitingState) (State, error) {
	tx, err := f.deps.Chain.WaitForInclusion(ctx, st.TxHash)
	if err != nil {
		if apperrors.RejectionKindOf(err) != "" {
			_ = f.deps.Secrets.Delete(f.subject)
			return CommitState{}, fmt.Errorf("account commitment failed: %w", err)
		}
		return st, err
	}
	if err := secret.MarkCommitted(f.deps.Secrets, f.subject, tx.Hash, tx.Height); err != nil {
		if errors.Is(err, secret.ErrSecretNotFound) {
			return CommitState{}, err
		}
		return st, err
	}
	logging.Info("account commitment included",
		logging.Subject(f.subject),
		logging.TxHash(tx.Hash),
		logging.Height(tx.Height))
	return LinkState{CommitHeight: tx.Height}, nil
}

func (f *AccountFlow) link(ctx context.Context, st LinkState) (State, error) {
	if f.account.AccessToken == "" {
		return st, &apperrors.AuthError{Missing: "GitHub access token"}
	}
	if f.deps.Signer == nil || f.account.Recipient == "" {
		return st, &apperrors.AuthError{Missing: "connected wallet"}
	}

	cfg, err := f.deps.Chain.Config(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to query contract config: %w", err)
	}
	height, err := f.deps.Chain.LatestHeight(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to query height: %w", err)
	}
	s, err := secret.Retrieve(f.deps.Secrets, f.subject, height)
	if err != nil {
		return f.fallback(st, err)
	}
	if _, err := waitForWindow(ctx, f.deps, cfg.Window(), st.CommitHeight); err != nil {
		return f.fallback(st, err)
	}

	proof, err := f.deps.Prover.RequestUserProof(ctx, f.account.AccessToken)
	if err != nil {
		return st, fmt.Errorf("failed to request user proof: %w", err)
	}

	res, err := execute(ctx, f.deps, f.subject, chain.LinkAccountMsg{
		Proof:            proof,
		RecipientAddress: f.account.Recipient,
		Secret:           s.Reveal(),
	})
	if err != nil {
		return f.fallback(st, fmt.Errorf("failed to link account: %w", err))
	}
	if _, err := f.deps.Chain.WaitForInclusion(ctx, res.TxHash); err != nil {
		return f.fallback(st, err)
	}

	if err := f.deps.Secrets.Delete(f.subject); err != nil {
		logging.Warn("failed to drop revealed secret", logging.Subject(f.subject), logging.Err(err))
	}
	logging.Info("account linked",
		logging.Subject(f.subject),
		"address", f.account.Recipient,
		logging.TxHash(res.TxHash))
	return CompleteState{Address: f.account.Recipient, TxHash: res.TxHash}, nil
}

// fallback returns CommitState for errors that make the commitment
// unrevealable, dropping the secret, and st otherwise.
func (f *AccountFlow) fallback(st State, err error) (State, error) {
	if mustRecommit(err) {
		_ = f.deps.Secrets.Delete(f.subject)
		return CommitState{}, err
	}
	return st, err
}
