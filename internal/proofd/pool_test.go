package proofd

import (
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/lazydev-zone/lazydev/internal/metrics"
)

func TestNewPoolManagerValidation(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		secrets []string
	}{
		{"empty", nil, nil},
		{"count mismatch", []string{"a", "b"}, []string{"s"}},
		{"empty secret", []string{"a"}, []string{""}},
		{"empty id", []string{""}, []string{"s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPoolManager(tt.ids, tt.secrets, nil); err == nil {
				t.Error("NewPoolManager should fail")
			}
		})
	}
}

func TestPoolRoundRobin(t *testing.T) {
	pool, err := NewPoolManager([]string{"a", "b", "c"}, []string{"sa", "sb", "sc"}, nil)
	if err != nil {
		t.Fatalf("NewPoolManager failed: %v", err)
	}

	want := []string{"a", "b", "c", "a", "b", "c", "a"}
	for i, id := range want {
		app := pool.Next()
		if app.ID != id {
			t.Errorf("selection %d = %s, want %s", i, app.ID, id)
		}
		if app.Secret != "s"+id {
			t.Errorf("selection %d secret = %s, want s%s", i, app.Secret, id)
		}
	}
}

func TestPoolConcurrentSelectionIsBalanced(t *testing.T) {
	rec := metrics.New()
	pool, err := NewPoolManager([]string{"a", "b", "c"}, []string{"1", "2", "3"}, rec)
	if err != nil {
		t.Fatalf("NewPoolManager failed: %v", err)
	}

	const n = 100
	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app := pool.Next()
			mu.Lock()
			counts[app.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c"} {
		if c := counts[id]; c != 33 && c != 34 {
			t.Errorf("app %s selected %d times, want 33 or 34", id, c)
		}
	}

	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != "lazydev_proof_pool_selections_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += counterValue(m)
		}
	}
	if total != n {
		t.Errorf("pool selections metric = %v, want %d", total, n)
	}
}

func counterValue(m *dto.Metric) float64 {
	if m.GetCounter() == nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
