// Package linking sequences the commit-reveal protocol that binds a GitHub
// account, or a repository's reward config, to the chain.
//
// Both flows follow the same shape: commit a hash of a local secret, wait
// until the reveal window opens, then reveal the secret together with a
// zkTLS proof. The chain is the only source of truth; local state is the
// secret alone, and losing it means committing again.
package linking

import (
	"context"
	"errors"
	"fmt"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/chain"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/metrics"
	"github.com/lazydev-zone/lazydev/internal/secret"
	"github.com/lazydev-zone/lazydev/internal/signer"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

// ErrFlowBusy is returned when a commit or link for the same subject is already running.
var ErrFlowBusy = errors.New("a link for this subject is already in progress")

// Chain is the subset of *chain.Client the flows read.
type Chain interface {
	Config(ctx context.Context) (types.ContractConfig, error)
	LatestHeight(ctx context.Context) (uint64, error)
	LinkedAddress(ctx context.Context, githubUserID uint64) (string, bool, error)
	UserCommitment(ctx context.Context, githubUserID uint64) (*types.Commitment[string], error)
	RepoCommitment(ctx context.Context, repo types.Repo) (*types.Commitment[types.RepoConfig], error)
	RepoConfig(ctx context.Context, repo types.Repo) (*types.RepoConfig, error)
	WaitForInclusion(ctx context.Context, hash string) (*chain.Tx, error)
	ContractAddress() string
}

// HeightWaiter blocks until the chain reaches a height. *chain.HeightWatcher implements it.
type HeightWaiter interface {
	WaitForHeight(ctx context.Context, target uint64) (uint64, error)
}

// Prover requests identity proofs. *proof.Client implements it.
type Prover interface {
	RequestUserProof(ctx context.Context, token string) (types.RawProof, error)
	RequestRepoOwnerProof(ctx context.Context, owner, repo, username, token string) (types.RawProof, error)
}

// Deps are the collaborators shared by both flows.
type Deps struct {
	Chain   Chain
	Heights HeightWaiter
	Prover  Prover
	Secrets secret.Store
	Signer  signer.Signer
	Metrics *metrics.Recorder
}

func (d Deps) validate() error {
	switch {
	case d.Chain == nil:
		return fmt.Errorf("chain client is required")
	case d.Heights == nil:
		return fmt.Errorf("height waiter is required")
	case d.Prover == nil:
		return fmt.Errorf("proof client is required")
	case d.Secrets == nil:
		return fmt.Errorf("secret store is required")
	}
	return nil
}

// Step names a state of a linking flow.
type Step string

const (
	StepCommit   Step = "commit"
	StepWaiting  Step = "waiting"
	StepLink     Step = "link"
	StepComplete Step = "complete"
)

// execute signs one lazydev message, records the transaction metric and
// writes an audit entry.
func execute(ctx context.Context, d Deps, subject string, msg any) (types.TxResult, error) {
	if d.Signer == nil || d.Signer.Sender() == "" {
		return types.TxResult{}, &apperrors.AuthError{Missing: "connected wallet"}
	}
	name := chain.ExecuteName(msg)
	res, err := d.Signer.Execute(ctx, d.Chain.ContractAddress(), chain.ExecuteMsg(msg))
	d.Metrics.Transaction(name, err)

	audit := logging.TxAudit{
		Operation: name,
		Sender:    d.Signer.Sender(),
		Subject:   subject,
		TxHash:    res.TxHash,
		Result:    "success",
	}
	if err != nil {
		audit.Result = "failure"
		audit.Details = err.Error()
	}
	logging.Audit(audit)
	return res, err
}

// waitForWindow blocks until the reveal window of a commit at commitHeight
// opens and returns the height observed. A window that has already closed
// returns secret.ErrSecretExpired.
func waitForWindow(ctx context.Context, d Deps, window types.RevealWindow, commitHeight uint64) (uint64, error) {
	opens := window.OpensAt(commitHeight)
	logging.Debug("waiting for reveal window",
		logging.Height(commitHeight),
		"opens_at", opens,
		"closes_at", window.ClosesAt(commitHeight))

	height, err := d.Heights.WaitForHeight(ctx, opens)
	if err != nil {
		return height, fmt.Errorf("failed to wait for reveal window: %w", err)
	}
	if window.Expired(commitHeight, height) {
		return height, secret.ErrSecretExpired
	}
	return height, nil
}

// mustRecommit reports whether err means the current commitment can never
// be revealed and the flow has to start over.
func mustRecommit(err error) bool {
	if errors.Is(err, secret.ErrSecretNotFound) || errors.Is(err, secret.ErrSecretExpired) {
		return true
	}
	switch apperrors.RejectionKindOf(err) {
	case apperrors.RejectCommitmentExpired, apperrors.RejectCommitmentMissing:
		return true
	}
	return false
}

// notBroadcast reports whether a failed Execute certainly never reached the
// chain. Only then is the secret of the attempted commitment dropped; after
// a transport error the commit may still land and the secret has to stay
// around for Start to match it.
func notBroadcast(err error) bool {
	var (
		rejected *apperrors.ChainRejectionError
		auth     *apperrors.AuthError
	)
	return errors.As(err, &rejected) || errors.As(err, &auth) || errors.Is(err, signer.ErrSignerBusy)
}
