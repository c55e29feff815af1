package chain

import (
	"testing"
	"time"
)

func TestEndpointTrackerOrdersByLatency(t *testing.T) {
	et := NewEndpointTracker([]string{"https://a", "https://b"})
	et.RecordSuccess("https://a", 300*time.Millisecond)
	et.RecordSuccess("https://b", 50*time.Millisecond)

	got := et.Candidates()
	if len(got) != 2 || got[0] != "https://b" {
		t.Errorf("Candidates() = %v, want b first", got)
	}
}

func TestEndpointTrackerEWMA(t *testing.T) {
	et := NewEndpointTracker([]string{"https://a"})
	et.RecordSuccess("https://a", 100*time.Millisecond)
	et.RecordSuccess("https://a", 200*time.Millisecond)

	et.mu.RLock()
	lat := et.endpoints[0].latency
	et.mu.RUnlock()
	// 0.3*200 + 0.7*100
	if lat < 120*time.Millisecond || lat > 140*time.Millisecond {
		t.Errorf("latency = %v, want ~130ms", lat)
	}
}

func TestEndpointTrackerUnhealthyAndRecovery(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	et := NewEndpointTracker([]string{"https://a", "https://b"})
	et.now = func() time.Time { return now }

	for i := 0; i < defaultMaxConsecutiveErrors; i++ {
		et.RecordError("https://a")
	}
	if et.Healthy("https://a") {
		t.Fatal("a should be unhealthy")
	}
	if got := et.Candidates(); len(got) != 1 || got[0] != "https://b" {
		t.Errorf("Candidates() = %v, want [b]", got)
	}

	now = now.Add(defaultRecoveryInterval)
	got := et.Candidates()
	if len(got) != 2 || got[1] != "https://a" {
		t.Errorf("Candidates() after recovery = %v, want a probed last", got)
	}

	et.RecordSuccess("https://a", time.Millisecond)
	if !et.Healthy("https://a") {
		t.Error("a should be healthy after a success")
	}
}

func TestEndpointTrackerUnknownURL(t *testing.T) {
	et := NewEndpointTracker([]string{"https://a"})
	et.RecordError("https://zzz")
	et.RecordSuccess("https://zzz", time.Second)
	if et.Len() != 1 || !et.Healthy("https://a") {
		t.Error("unknown urls must not affect tracked endpoints")
	}
}
