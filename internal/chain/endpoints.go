package chain

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultMaxConsecutiveErrors = 3
	defaultRecoveryInterval     = 30 * time.Second
	ewmaAlpha                   = 0.3
	unmeasuredLatency           = 100 * time.Millisecond
)

// endpointState is the health of one node URL.
type endpointState struct {
	url             string
	latency         time.Duration // EWMA
	samples         int
	consecutiveErrs int
	lastError       time.Time
	healthy         bool
}

// EndpointTracker orders node endpoints for failover. Healthy endpoints are
// tried in latency order; an endpoint that failed maxErrors times in a row is
// skipped until the recovery interval has passed.
type EndpointTracker struct {
	mu        sync.RWMutex
	endpoints []*endpointState
	maxErrors int
	recovery  time.Duration
	now       func() time.Time
}

// NewEndpointTracker tracks urls, all starting healthy.
func NewEndpointTracker(urls []string) *EndpointTracker {
	eps := make([]*endpointState, 0, len(urls))
	for _, u := range urls {
		eps = append(eps, &endpointState{url: u, healthy: true, latency: unmeasuredLatency})
	}
	return &EndpointTracker{
		endpoints: eps,
		maxErrors: defaultMaxConsecutiveErrors,
		recovery:  defaultRecoveryInterval,
		now:       time.Now,
	}
}

// RecordSuccess marks url healthy and folds latency into its average.
func (t *EndpointTracker) RecordSuccess(url string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep := t.find(url)
	if ep == nil {
		return
	}
	ep.consecutiveErrs = 0
	ep.healthy = true
	if ep.samples == 0 {
		ep.latency = latency
	} else {
		ep.latency = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(ep.latency))
	}
	ep.samples++
}

// RecordError counts a failed call against url.
func (t *EndpointTracker) RecordError(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep := t.find(url)
	if ep == nil {
		return
	}
	ep.consecutiveErrs++
	ep.lastError = t.now()
	if ep.consecutiveErrs >= t.maxErrors {
		ep.healthy = false
	}
}

// Candidates returns the URLs to try, best first. Unhealthy endpoints past
// their recovery interval are appended as probes.
func (t *EndpointTracker) Candidates() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type candidate struct {
		url     string
		latency time.Duration
		probe   bool
	}

	now := t.now()
	var cs []candidate
	for _, ep := range t.endpoints {
		switch {
		case ep.healthy:
			cs = append(cs, candidate{url: ep.url, latency: ep.latency})
		case now.Sub(ep.lastError) >= t.recovery:
			cs = append(cs, candidate{url: ep.url, latency: ep.latency, probe: true})
		}
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].probe != cs[j].probe {
			return !cs[i].probe
		}
		return cs[i].latency < cs[j].latency
	})

	urls := make([]string, len(cs))
	for i, c := range cs {
		urls[i] = c.url
	}
	return urls
}

// Healthy reports whether url is currently considered healthy.
func (t *EndpointTracker) Healthy(url string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep := t.find(url)
	return ep != nil && ep.healthy
}

// Len returns the number of tracked endpoints.
func (t *EndpointTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.endpoints)
}

func (t *EndpointTracker) find(url string) *endpointState {
	for _, ep := range t.endpoints {
		if ep.url == url {
			return ep
		}
	}
	return nil
}
