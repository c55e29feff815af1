package linking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/chain"
	"github.com/lazydev-zone/lazydev/internal/metrics"
	"github.com/lazydev-zone/lazydev/internal/secret"
	"github.com/lazydev-zone/lazydev/internal/signer"
)

const testUser = 42

type accountEnv struct {
	ledger  *ledger
	signer  *signer.Mock
	prover  *prover
	secrets *secret.MemoryStore
	flow    *AccountFlow
}

func newAccountEnv(t *testing.T, height uint64) *accountEnv {
	t.Helper()
	env := &accountEnv{
		ledger:  newLedger(height),
		prover:  &prover{userID: testUser},
		secrets: secret.NewMemoryStore(),
	}
	env.signer = env.ledger.signer()
	env.flow = env.newFlow(t)
	return env
}

func (e *accountEnv) deps() Deps {
	return Deps{
		Chain:   e.ledger,
		Heights: e.ledger,
		Prover:  e.prover,
		Secrets: e.secrets,
		Signer:  e.signer,
		Metrics: metrics.New(),
	}
}

func (e *accountEnv) newFlow(t *testing.T) *AccountFlow {
	t.Helper()
	f, err := NewAccountFlow(e.deps(), Account{GithubUserID: testUser, AccessToken: "gho_test"})
	if err != nil {
		t.Fatalf("NewAccountFlow: %v", err)
	}
	return f
}

func TestAccountStartsAtCommitWhenUnlinked(t *testing.T) {
	env := newAccountEnv(t, 100)

	addr, linked, err := env.flow.Linked(context.Background())
	if err != nil || linked || addr != "" {
		t.Fatalf("Linked = %q, %v, %v; want nothing", addr, linked, err)
	}
	s, err := env.flow.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := s.(CommitState); !ok {
		t.Errorf("Start = %#v, want CommitState", s)
	}
}

func TestAccountStartShortcutsWhenLinked(t *testing.T) {
	env := newAccountEnv(t, 100)
	env.ledger.linked[testUser] = "neutron1already"

	s, err := env.flow.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done, ok := s.(CompleteState)
	if !ok || done.Address != "neutron1already" {
		t.Errorf("Run = %#v, want CompleteState for neutron1already", s)
	}
	if n := len(env.signer.Calls()); n != 0 {
		t.Errorf("linked account must not sign, got %d transactions", n)
	}
}

func TestAccountRunLinks(t *testing.T) {
	env := newAccountEnv(t, 100)

	var steps []Step
	env.flow.OnTransition(func(_, to State) { steps = append(steps, to.Step()) })

	s, err := env.flow.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done, ok := s.(CompleteState)
	if !ok {
		t.Fatalf("Run = %#v, want CompleteState", s)
	}
	if done.Address != testSender || done.TxHash != "TX2" {
		t.Errorf("complete = %+v", done)
	}

	wantSteps := []Step{StepWaiting, StepLink, StepComplete}
	if len(steps) != len(wantSteps) {
		t.Fatalf("transitions = %v, want %v", steps, wantSteps)
	}
	for i := range wantSteps {
		if steps[i] != wantSteps[i] {
			t.Errorf("transition %d = %s, want %s", i, steps[i], wantSteps[i])
		}
	}

	names := env.signer.Names()
	if len(names) != 2 || names[0] != "commit_account" || names[1] != "link_account" {
		t.Errorf("transactions = %v", names)
	}
	if env.ledger.linked[testUser] != testSender {
		t.Errorf("ledger link = %q", env.ledger.linked[testUser])
	}
	if reveals := env.ledger.revealHeights(); len(reveals) != 1 || reveals[0] != 105 {
		t.Errorf("reveal heights = %v, want [105]", reveals)
	}
	if _, err := env.secrets.Get(secret.UserSubject(testUser)); !errors.Is(err, secret.ErrSecretNotFound) {
		t.Errorf("revealed secret must be dropped, Get err = %v", err)
	}
}

// Commit at 100 with a [5, 50) window: nothing is revealed at 104, the
// reveal goes through at 106.
func TestAccountRevealWaitsForWindow(t *testing.T) {
	env := newAccountEnv(t, 100)
	env.ledger.advance = false
	ctx := context.Background()

	s, err := env.flow.Step(ctx, CommitState{})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	s, err = env.flow.Step(ctx, s)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	link, ok := s.(LinkState)
	if !ok || link.CommitHeight != 100 {
		t.Fatalf("after wait = %#v, want LinkState at 100", s)
	}

	env.ledger.setHeight(104)
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	s, err = env.flow.Step(short, link)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("reveal at 104: err = %v, want deadline exceeded", err)
	}
	if _, ok := s.(LinkState); !ok {
		t.Errorf("state after early reveal = %#v, want LinkState", s)
	}
	if names := env.signer.Names(); len(names) != 1 {
		t.Errorf("no reveal may be broadcast before the window opens, got %v", names)
	}
	if user, _ := env.prover.calls(); user != 0 {
		t.Errorf("proof requested before the window opened")
	}

	env.ledger.setHeight(106)
	s, err = env.flow.Step(ctx, s)
	if err != nil {
		t.Fatalf("reveal at 106: %v", err)
	}
	if _, ok := s.(CompleteState); !ok {
		t.Errorf("state = %#v, want CompleteState", s)
	}
	if reveals := env.ledger.revealHeights(); len(reveals) != 1 || reveals[0] != 106 {
		t.Errorf("reveal heights = %v, want [106]", reveals)
	}
}

func TestAccountResumesAtLink(t *testing.T) {
	env := newAccountEnv(t, 100)
	ctx := context.Background()

	s, _ := env.flow.Step(ctx, CommitState{})
	if _, err := env.flow.Step(ctx, s); err != nil {
		t.Fatalf("wait: %v", err)
	}

	resumed, err := env.newFlow(t).Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if link, ok := resumed.(LinkState); !ok || link.CommitHeight != 100 {
		t.Errorf("Start = %#v, want LinkState at 100", resumed)
	}
}

func TestAccountResumesWaitingForBroadcastCommit(t *testing.T) {
	env := newAccountEnv(t, 100)
	rec := secret.NewRecord(secret.UserSubject(testUser), mustSecret(t), env.ledger.cfg.Window())
	rec.TxHash = "PENDING"
	if err := env.secrets.Put(rec); err != nil {
		t.Fatal(err)
	}

	s, err := env.flow.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w, ok := s.(WaitingState); !ok || w.TxHash != "PENDING" {
		t.Errorf("Start = %#v, want WaitingState{PENDING}", s)
	}
}

func TestAccountStartDropsExpiredCommitment(t *testing.T) {
	env := newAccountEnv(t, 100)
	ctx := context.Background()
	s, _ := env.flow.Step(ctx, CommitState{})
	if _, err := env.flow.Step(ctx, s); err != nil {
		t.Fatal(err)
	}

	env.ledger.setHeight(150)
	s, err := env.flow.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := s.(CommitState); !ok {
		t.Errorf("Start = %#v, want CommitState for an expired commitment", s)
	}
	if _, err := env.secrets.Get(secret.UserSubject(testUser)); !errors.Is(err, secret.ErrSecretNotFound) {
		t.Errorf("expired secret must be dropped, Get err = %v", err)
	}
}

func TestAccountLinkWithoutSecretReturnsToCommit(t *testing.T) {
	env := newAccountEnv(t, 100)

	s, err := env.flow.Step(context.Background(), LinkState{CommitHeight: 90})
	if !errors.Is(err, secret.ErrSecretNotFound) {
		t.Fatalf("err = %v, want ErrSecretNotFound", err)
	}
	if _, ok := s.(CommitState); !ok {
		t.Errorf("state = %#v, want CommitState", s)
	}
	if n := len(env.signer.Calls()); n != 0 {
		t.Errorf("%d transactions signed without a secret", n)
	}
}

func TestAccountCommitFailureStaysInCommit(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		keepSecret bool
	}{
		{"wallet rejected", apperrors.ClassifyRejection("user rejected the request"), false},
		{"signer busy", signer.ErrSignerBusy, false},
		{"bridge timeout", errors.New("wallet bridge request failed: EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAccountEnv(t, 100)
			env.signer.OnExecute = func(signer.Call) error { return tt.err }

			s, err := env.flow.Step(context.Background(), CommitState{})
			if err == nil {
				t.Fatal("expected commit error")
			}
			if _, ok := s.(CommitState); !ok {
				t.Errorf("state = %#v, want CommitState", s)
			}
			_, err = env.secrets.Get(secret.UserSubject(testUser))
			if tt.keepSecret && err != nil {
				t.Errorf("secret must survive an unknown commit outcome: %v", err)
			}
			if !tt.keepSecret && !errors.Is(err, secret.ErrSecretNotFound) {
				t.Errorf("secret of a commit that never broadcast must be dropped, Get err = %v", err)
			}
		})
	}
}

func TestAccountWaitCancelled(t *testing.T) {
	env := newAccountEnv(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := env.flow.Step(ctx, WaitingState{TxHash: "UNKNOWN"})
	if !errors.Is(err, chain.ErrNotIncluded) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want ErrNotIncluded wrapping context.Canceled", err)
	}
	if w, ok := s.(WaitingState); !ok || w.TxHash != "UNKNOWN" {
		t.Errorf("cancelled wait must keep WaitingState, got %#v", s)
	}
}

func TestAccountLinkNeedsToken(t *testing.T) {
	env := newAccountEnv(t, 100)
	f, err := NewAccountFlow(env.deps(), Account{GithubUserID: testUser})
	if err != nil {
		t.Fatal(err)
	}

	s, err := f.Step(context.Background(), LinkState{CommitHeight: 100})
	if !apperrors.IsAuth(err) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if _, ok := s.(LinkState); !ok {
		t.Errorf("state = %#v, want LinkState", s)
	}
}

func TestAccountLinkProofFailureStaysInLink(t *testing.T) {
	env := newAccountEnv(t, 100)
	ctx := context.Background()
	s, _ := env.flow.Step(ctx, CommitState{})
	s, _ = env.flow.Step(ctx, s)

	env.prover.err = &apperrors.UpstreamProofError{Status: 401, Code: apperrors.ProofNotAuthorized}
	s, err := env.flow.Step(ctx, s)
	var perr *apperrors.UpstreamProofError
	if !errors.As(err, &perr) || perr.Code != apperrors.ProofNotAuthorized {
		t.Fatalf("err = %v, want not_authorized proof error", err)
	}
	if _, ok := s.(LinkState); !ok {
		t.Errorf("state = %#v, want LinkState", s)
	}
	if _, err := env.secrets.Get(secret.UserSubject(testUser)); err != nil {
		t.Errorf("secret must survive a proof failure: %v", err)
	}
}

func TestNewAccountFlowValidation(t *testing.T) {
	env := newAccountEnv(t, 1)
	if _, err := NewAccountFlow(env.deps(), Account{}); !apperrors.IsValidation(err) {
		t.Errorf("missing user id: err = %v", err)
	}
	d := env.deps()
	d.Prover = nil
	if _, err := NewAccountFlow(d, Account{GithubUserID: 1}); err == nil {
		t.Error("missing prover must fail")
	}
}

func mustSecret(t *testing.T) secret.Secret {
	t.Helper()
	s, err := secret.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return s
}
