package types

import "testing"

func TestRevealWindow(t *testing.T) {
	w := RevealWindow{Min: 5, Max: 50}

	tests := []struct {
		height  uint64
		open    bool
		expired bool
	}{
		{height: 100, open: false},
		{height: 104, open: false},
		{height: 105, open: true},
		{height: 106, open: true},
		{height: 149, open: true},
		{height: 150, open: false, expired: true},
		{height: 99, open: false},
	}

	for _, tt := range tests {
		if got := w.Open(100, tt.height); got != tt.open {
			t.Errorf("Open(100, %d) = %v, want %v", tt.height, got, tt.open)
		}
		if got := w.Expired(100, tt.height); got != tt.expired {
			t.Errorf("Expired(100, %d) = %v, want %v", tt.height, got, tt.expired)
		}
	}

	if w.OpensAt(100) != 105 || w.ClosesAt(100) != 150 {
		t.Errorf("OpensAt/ClosesAt = %d/%d", w.OpensAt(100), w.ClosesAt(100))
	}
	if err := (RevealWindow{Min: 5, Max: 5}).Validate(); err == nil {
		t.Error("expected error for empty window")
	}
}

func TestCommitmentAge(t *testing.T) {
	c := Commitment[string]{CommitmentHeight: 100}
	if c.Age(106) != 6 {
		t.Errorf("Age(106) = %d", c.Age(106))
	}
	if c.Age(90) != 0 {
		t.Errorf("Age(90) = %d", c.Age(90))
	}
}

func TestPrEligibilityIsValid(t *testing.T) {
	for _, e := range []PrEligibility{PrClaimed, PrEligible, PrIneligible} {
		if !e.IsValid() {
			t.Errorf("%q should be valid", e)
		}
	}
	if PrEligibility("maybe").IsValid() {
		t.Error("unknown eligibility should be invalid")
	}
}
