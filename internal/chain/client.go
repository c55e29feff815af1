// Package chain reads lazydev contract state and transaction results from a
// CosmWasm chain through its LCD (REST) and CometBFT RPC endpoints.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"

	"github.com/lazydev-zone/lazydev/internal/logging"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPollInterval   = 3 * time.Second
	maxResponseBytes      = 8 << 20
)

// ErrNoEndpoint means every configured endpoint is unhealthy.
var ErrNoEndpoint = errors.New("no healthy chain endpoint available")

// HTTPError is a non-2xx answer from a node that was not a failover condition.
type HTTPError struct {
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("chain endpoint %s returned %d: %s", e.URL, e.Status, e.Body)
}

// Options configures a Client.
type Options struct {
	RPCURLs         []string
	RESTURLs        []string
	ContractAddress string
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	HTTPClient      *http.Client
}

// Client is the chain query adapter. It is safe for concurrent use.
type Client struct {
	rpcEndpoints  *EndpointTracker
	restEndpoints *EndpointTracker
	rpcClients    map[string]*rpchttp.HTTP
	httpClient    *http.Client
	contract      string
	pollInterval  time.Duration
}

// NewClient creates a chain client.
func NewClient(opts Options) (*Client, error) {
	if len(opts.RPCURLs) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if len(opts.RESTURLs) == 0 {
		return nil, fmt.Errorf("at least one REST endpoint is required")
	}
	if opts.ContractAddress == "" {
		return nil, fmt.Errorf("contract address is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.RequestTimeout}
	}

	rpcURLs := trimAll(opts.RPCURLs)
	rpcClients := make(map[string]*rpchttp.HTTP, len(rpcURLs))
	for _, u := range rpcURLs {
		rc, err := rpchttp.NewWithClient(u, "/websocket", hc)
		if err != nil {
			return nil, fmt.Errorf("invalid RPC endpoint %q: %w", u, err)
		}
		rpcClients[u] = rc
	}
	return &Client{
		rpcEndpoints:  NewEndpointTracker(rpcURLs),
		restEndpoints: NewEndpointTracker(trimAll(opts.RESTURLs)),
		rpcClients:    rpcClients,
		httpClient:    hc,
		contract:      opts.ContractAddress,
		pollInterval:  opts.PollInterval,
	}, nil
}

// ContractAddress returns the lazydev contract address the client queries.
func (c *Client) ContractAddress() string {
	return c.contract
}

// PollInterval is the interval used by WaitForInclusion and height polling.
func (c *Client) PollInterval() time.Duration {
	return c.pollInterval
}

// get fetches path from the first endpoint that answers. Transport errors and
// gateway statuses fail over to the next endpoint; any other status is
// returned to the caller with its body.
func (c *Client) get(ctx context.Context, tracker *EndpointTracker, path string) ([]byte, int, error) {
	candidates := tracker.Candidates()
	if len(candidates) == 0 {
		return nil, 0, ErrNoEndpoint
	}

	var lastErr error
	for _, base := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		start := time.Now()
		body, status, err := c.fetch(ctx, base+path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			tracker.RecordError(base)
			lastErr = err
			logging.Debug("chain endpoint failed, trying next",
				"endpoint", base,
				logging.Err(err))
			continue
		}
		tracker.RecordSuccess(base, time.Since(start))
		return body, status, nil
	}
	return nil, 0, fmt.Errorf("all chain endpoints failed: %w", lastErr)
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, resp.StatusCode, fmt.Errorf("gateway status %d", resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}

// rpc runs call against the CometBFT client of each endpoint in latency
// order. Errors the node reports for the method itself are returned as is;
// transport and decoding failures fail over to the next endpoint.
func (c *Client) rpc(ctx context.Context, call func(context.Context, *rpchttp.HTTP) error) error {
	candidates := c.rpcEndpoints.Candidates()
	if len(candidates) == 0 {
		return ErrNoEndpoint
	}

	var lastErr error
	for _, base := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := call(ctx, c.rpcClients[base])
		if err == nil || isMethodError(err) {
			c.rpcEndpoints.RecordSuccess(base, time.Since(start))
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.rpcEndpoints.RecordError(base)
		lastErr = err
		logging.Debug("chain rpc endpoint failed, trying next",
			"endpoint", base,
			logging.Err(err))
	}
	return fmt.Errorf("all chain endpoints failed: %w", lastErr)
}

// getJSON fetches path and decodes a 2xx JSON body into out.
func (c *Client) getJSON(ctx context.Context, tracker *EndpointTracker, path string, out any) error {
	body, status, err := c.get(ctx, tracker, path)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &HTTPError{URL: path, Status: status, Body: truncate(string(body), 512)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func trimAll(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
