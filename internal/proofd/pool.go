package proofd

import (
	"fmt"
	"sync"

	"github.com/lazydev-zone/lazydev/internal/metrics"
)

// App is one credentialed attestor application.
type App struct {
	ID     string
	Secret string
}

// PoolManager hands out attestor applications in strict round-robin order.
// Selection is serialized, so N concurrent requests over a pool of k apps
// use each app either floor(N/k) or ceil(N/k) times.
type PoolManager struct {
	apps    []App
	metrics *metrics.Recorder

	mu   sync.Mutex
	next int
}

// NewPoolManager builds a pool from parallel id and secret lists.
func NewPoolManager(ids, secrets []string, rec *metrics.Recorder) (*PoolManager, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one attestor application is required")
	}
	if len(ids) != len(secrets) {
		return nil, fmt.Errorf("application ids and secrets differ in count (%d vs %d)", len(ids), len(secrets))
	}

	apps := make([]App, len(ids))
	for i := range ids {
		if ids[i] == "" || secrets[i] == "" {
			return nil, fmt.Errorf("application %d has an empty id or secret", i)
		}
		apps[i] = App{ID: ids[i], Secret: secrets[i]}
	}
	return &PoolManager{apps: apps, metrics: rec}, nil
}

// Next returns the application for the next request.
func (p *PoolManager) Next() App {
	p.mu.Lock()
	app := p.apps[p.next]
	p.next = (p.next + 1) % len(p.apps)
	p.mu.Unlock()

	p.metrics.PoolSelection(app.ID)
	return app
}

// Len returns the number of applications in the pool.
func (p *PoolManager) Len() int {
	return len(p.apps)
}
