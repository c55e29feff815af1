package rewards

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/signer"
	"github.com/lazydev-zone/lazydev/pkg/types"
)

func newClaimer(c *fakeChain, p *fakeProver, s *signer.Mock) *Claimer {
	return NewClaimer(c, p, s, nil)
}

func TestClaimInvalidURLMakesNoCalls(t *testing.T) {
	c := newFakeChain(widget)
	p := &fakeProver{}
	s := signer.NewMock("neutron1sender")

	for _, raw := range []string{"not-a-url", "https://github.com/acme/widget/issues/7", "https://github.com/acme/widget/pull/", ""} {
		_, err := newClaimer(c, p, s).Claim(context.Background(), raw)
		if !apperrors.IsValidation(err) {
			t.Errorf("Claim(%q) err = %v, want ValidationError", raw, err)
		}
	}
	if c.calls.Load() != 0 || p.count() != 0 || len(s.Calls()) != 0 {
		t.Errorf("network calls issued: chain=%d prover=%d signer=%d", c.calls.Load(), p.count(), len(s.Calls()))
	}
}

func TestClaimSubmitsRewardPr(t *testing.T) {
	c := newFakeChain(widget)
	p := &fakeProver{}
	s := signer.NewMock("neutron1sender")

	res, err := newClaimer(c, p, s).Claim(context.Background(), "https://github.com/acme/widget/pull/7")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.TxHash != "TX1" || res.PrURL != "https://github.com/acme/widget/pull/7" {
		t.Errorf("result = %+v", res)
	}
	calls := s.Calls()
	if len(calls) != 1 || !reflect.DeepEqual(calls[0].Names(), []string{"reward_pr"}) {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Instructions[0].Contract != testContract {
		t.Errorf("contract = %s", calls[0].Instructions[0].Contract)
	}
	if !reflect.DeepEqual(p.calls, []uint64{7}) {
		t.Errorf("proof calls = %v", p.calls)
	}
}

func TestClaimClassifiesRejection(t *testing.T) {
	tests := []struct {
		reason string
		want   Outcome
	}{
		{"execute wasm contract failed: pr 7 has already been rewarded", OutcomeAlreadyClaimed},
		{"invalid repo", OutcomeIneligible},
		{"pr is not merged", OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			s := signer.NewMock("neutron1sender")
			s.OnExecute = func(signer.Call) error { return apperrors.ClassifyRejection(tt.reason) }

			_, err := newClaimer(newFakeChain(widget), &fakeProver{}, s).Claim(context.Background(), "https://github.com/acme/widget/pull/7")
			if err == nil {
				t.Fatal("expected rejection")
			}
			if got := OutcomeOf(err); got != tt.want {
				t.Errorf("OutcomeOf(%v) = %s, want %s", err, got, tt.want)
			}
		})
	}
	if OutcomeOf(nil) != OutcomeClaimed {
		t.Error("OutcomeOf(nil) must be claimed")
	}
}

func TestClaimNeedsWallet(t *testing.T) {
	p := &fakeProver{}
	_, err := NewClaimer(newFakeChain(widget), p, nil, nil).Claim(context.Background(), "https://github.com/acme/widget/pull/7")
	if !apperrors.IsAuth(err) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if p.count() != 0 {
		t.Error("no proof may be requested without a wallet")
	}
}

func TestClaimAllBatchesValidProofs(t *testing.T) {
	p := &fakeProver{fail: map[uint64]error{
		2: &apperrors.UpstreamProofError{Status: 404, Code: apperrors.ProofNotFound},
	}}
	s := signer.NewMock("neutron1sender")

	res, err := newClaimer(newFakeChain(widget), p, s).ClaimAll(context.Background(), []string{
		"https://github.com/acme/widget/pull/1",
		"https://github.com/acme/widget/pull/2",
		"not-a-url",
		"https://github.com/acme/widget/pull/3",
	})
	if err != nil {
		t.Fatalf("ClaimAll: %v", err)
	}

	calls := s.Calls()
	if len(calls) != 1 || len(calls[0].Instructions) != 2 {
		t.Fatalf("want one transaction with two instructions, got %+v", calls)
	}
	want := []string{"https://github.com/acme/widget/pull/1", "https://github.com/acme/widget/pull/3"}
	if !reflect.DeepEqual(res.Claimed, want) || res.TxHash != "TX1" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("failed = %v", res.Failed)
	}
	var perr *apperrors.UpstreamProofError
	if !errors.As(res.Failed["https://github.com/acme/widget/pull/2"], &perr) {
		t.Errorf("pull/2 failure = %v", res.Failed["https://github.com/acme/widget/pull/2"])
	}
	if !apperrors.IsValidation(res.Failed["not-a-url"]) {
		t.Errorf("not-a-url failure = %v", res.Failed["not-a-url"])
	}
	if !reflect.DeepEqual(p.calls, []uint64{1, 2, 3}) {
		t.Errorf("proofs must be requested in order, got %v", p.calls)
	}
}

func TestClaimAllWithoutProofsSignsNothing(t *testing.T) {
	p := &fakeProver{fail: map[uint64]error{1: errors.New("down")}}
	s := signer.NewMock("neutron1sender")

	_, err := newClaimer(newFakeChain(widget), p, s).ClaimAll(context.Background(), []string{"https://github.com/acme/widget/pull/1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(s.Calls()) != 0 {
		t.Error("nothing may be signed without proofs")
	}
}

func TestEligibility(t *testing.T) {
	c := newFakeChain(widget)
	c.rewardTx[prKey(widget, 7)] = rewardTx("H", "udenom1", "1")
	cl := newClaimer(c, &fakeProver{}, nil)

	got, err := cl.Eligibility(context.Background(), "https://github.com/acme/widget/pull/7", 42)
	if err != nil || got != types.PrClaimed {
		t.Errorf("Eligibility(7) = %s, %v", got, err)
	}
	got, err = cl.Eligibility(context.Background(), "https://github.com/acme/widget/pull/8", 42)
	if err != nil || got != types.PrEligible {
		t.Errorf("Eligibility(8) = %s, %v", got, err)
	}
	if _, err := cl.Eligibility(context.Background(), "nope", 42); !apperrors.IsValidation(err) {
		t.Errorf("invalid url err = %v", err)
	}
}
