package chain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	cmttypes "github.com/cometbft/cometbft/types"

	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/util"
)

const (
	newBlockQuery    = "tm.event='NewBlock'"
	subscriberName   = "lazydev-height-watcher"
	wsStallTimeout   = 60 * time.Second
	wsHandshakeLimit = 10 * time.Second
	// the client drops events when the buffer is full
	eventBuffer = 16
)

// HeightWatcher follows the chain head. With a websocket URL it subscribes to
// NewBlock events through the CometBFT client and reconnects with backoff when
// the stream drops or stalls; without one, WaitForHeight polls status.
type HeightWatcher struct {
	client  *Client
	wsURL   string
	backoff util.Backoff
	// stall ends a session that delivered no block for this long.
	stall time.Duration

	height  atomic.Uint64
	mu      sync.Mutex
	changed chan struct{}

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHeightWatcher creates a watcher. An empty wsURL disables the subscription.
func NewHeightWatcher(client *Client, wsURL string) *HeightWatcher {
	return &HeightWatcher{
		client:  client,
		wsURL:   wsURL,
		backoff: util.DefaultBackoff(),
		stall:   wsStallTimeout,
		changed: make(chan struct{}),
	}
}

// Start launches the websocket subscription. It is a no-op without a websocket URL.
func (w *HeightWatcher) Start(ctx context.Context) error {
	if w.wsURL == "" {
		logging.Debug("height watcher: no websocket endpoint, using polling")
		return nil
	}
	if _, _, err := splitWSURL(w.wsURL); err != nil {
		return err
	}
	if !w.running.CompareAndSwap(false, true) {
		return nil
	}

	ctx, w.cancel = context.WithCancel(ctx)
	util.SafeGoGroup(&w.wg, "height-watcher", func() {
		w.run(ctx)
	})
	return nil
}

// Stop ends the subscription and waits for it to exit.
func (w *HeightWatcher) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.cancel()
	w.wg.Wait()
}

// Height returns the latest height seen, or 0 if none yet.
func (w *HeightWatcher) Height() uint64 {
	return w.height.Load()
}

// WaitForHeight blocks until the chain reaches target and returns the height
// observed. The websocket stream wakes it early; /status is polled every poll
// interval in case the stream is down.
func (w *HeightWatcher) WaitForHeight(ctx context.Context, target uint64) (uint64, error) {
	ticker := time.NewTicker(w.client.PollInterval())
	defer ticker.Stop()

	poll := true
	for {
		if poll {
			h, err := w.client.LatestHeight(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return w.Height(), ctx.Err()
				}
				logging.Warn("height poll failed", logging.Err(err))
			} else {
				w.publish(h)
			}
		}
		if h := w.Height(); h >= target {
			return h, nil
		}

		w.mu.Lock()
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return w.Height(), ctx.Err()
		case <-changed:
			poll = false
		case <-ticker.C:
			poll = true
		}
	}
}

func (w *HeightWatcher) publish(h uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h <= w.height.Load() {
		return
	}
	w.height.Store(h)
	close(w.changed)
	w.changed = make(chan struct{})
}

func (w *HeightWatcher) run(ctx context.Context) {
	attempt := 0
	for {
		err := w.subscribe(ctx, func() { attempt = 0 })
		if ctx.Err() != nil {
			return
		}
		attempt++
		delay := w.backoff.Delay(attempt)
		logging.Warn("height watcher: subscription dropped, reconnecting",
			logging.Err(err),
			"attempt", attempt,
			"retry_in", delay.String())
		if !util.SleepContext(ctx, delay) {
			return
		}
	}
}

// splitWSURL turns a websocket URL into the node address and endpoint path
// the CometBFT client dials.
func splitWSURL(raw string) (remote, endpoint string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid websocket URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", "", fmt.Errorf("invalid websocket URL %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("invalid websocket URL %q: missing host", raw)
	}
	endpoint = u.Path
	if endpoint == "" || endpoint == "/" {
		endpoint = "/websocket"
	}
	return u.Scheme + "://" + u.Host, "/" + strings.TrimPrefix(endpoint, "/"), nil
}

// subscribe holds one NewBlock subscription until it fails, stalls or ctx
// ends. onSubscribed is called once the subscription is registered.
func (w *HeightWatcher) subscribe(ctx context.Context, onSubscribed func()) error {
	remote, endpoint, err := splitWSURL(w.wsURL)
	if err != nil {
		return err
	}
	rc, err := rpchttp.New(remote, endpoint)
	if err != nil {
		return fmt.Errorf("failed to create client for %s: %w", w.wsURL, err)
	}
	if err := rc.Start(); err != nil {
		return fmt.Errorf("failed to dial %s: %w", w.wsURL, err)
	}
	defer func() {
		if err := rc.Stop(); err != nil {
			logging.Debug("height watcher: stop failed", logging.Err(err))
		}
	}()

	subCtx, cancel := context.WithTimeout(ctx, wsHandshakeLimit)
	events, err := rc.Subscribe(subCtx, subscriberName, newBlockQuery, eventBuffer)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	onSubscribed()
	logging.Info("height watcher: subscribed", "endpoint", w.wsURL)

	stall := time.NewTimer(w.stall)
	defer stall.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stall.C:
			return fmt.Errorf("no new block for %s", w.stall)
		case ev, ok := <-events:
			if !ok {
				return errors.New("subscription closed by node")
			}
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(w.stall)

			block, ok := ev.Data.(cmttypes.EventDataNewBlock)
			if !ok || block.Block == nil || block.Block.Height <= 0 {
				continue
			}
			w.publish(uint64(block.Block.Height))
		}
	}
}
