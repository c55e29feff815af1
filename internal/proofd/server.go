// Package proofd is the proof gateway: it turns GitHub API calls into zkTLS
// proofs the lazydev contract accepts, spreading load over a pool of
// attestor applications.
package proofd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/metrics"
	"github.com/lazydev-zone/lazydev/internal/proof"
	"github.com/lazydev-zone/lazydev/internal/util"
)

const (
	defaultGitHubAPIURL = "https://api.github.com"
	maxRequestBody      = 64 << 10

	userIDPattern = `"id"\s*:\s*(?<id>\d+)`
	jsonPattern   = `(?<json>\{.+\})`
)

var errorDescriptions = map[apperrors.ProofErrorCode]string{
	apperrors.ProofNotAuthorized: "bad token credentials",
	apperrors.ProofForbidden:     "this user doesnt have access to the repo, they are not the owner",
	apperrors.ProofNotFound:      "this repo doesnt exist",
}

// Config configures the gateway server.
type Config struct {
	ListenAddr   string
	GitHubAPIURL string
	RateLimit    float64 // requests per second per client IP, 0 disables
	Burst        int
	Timeout      time.Duration // per attestation, 0 means no limit
	TrustProxy   bool
}

// Server serves the proof endpoints.
type Server struct {
	cfg      Config
	pool     *PoolManager
	attestor Attestor
	metrics  *metrics.Recorder

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	rateLimiters sync.Map
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// NewServer creates a gateway server.
func NewServer(cfg Config, pool *PoolManager, attestor Attestor, rec *metrics.Recorder) *Server {
	if cfg.GitHubAPIURL == "" {
		cfg.GitHubAPIURL = defaultGitHubAPIURL
	}
	cfg.GitHubAPIURL = strings.TrimRight(cfg.GitHubAPIURL, "/")
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Server{
		cfg:      cfg,
		pool:     pool,
		attestor: attestor,
		metrics:  rec,
	}
}

// Handler returns the gateway's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /index", s.handleIndex)
	mux.HandleFunc("POST /proof-user", s.withMiddleware(s.handleProofUser))
	mux.HandleFunc("POST /proof-pr", s.withMiddleware(s.handleProofPr))
	mux.HandleFunc("POST /proof-repo-owner", s.withMiddleware(s.handleProofRepoOwner))
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.corsMiddleware(mux)
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	var cleanupCtx context.Context
	cleanupCtx, s.cancel = context.WithCancel(ctx)
	if s.cfg.RateLimit > 0 {
		util.SafeGoGroup(&s.wg, "proofd-ratelimit-cleanup", func() {
			s.runRateLimiterCleanup(cleanupCtx)
		})
	}

	srv := s.httpServer
	util.SafeGoGroup(&s.wg, "proofd-http", func() {
		logging.Info("proof gateway listening",
			"addr", ln.Addr().String(),
			"apps", s.pool.Len(),
			logging.Component("proofd"))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("proof gateway server error", logging.Err(err), logging.Component("proofd"))
		}
	})
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	cancel := s.cancel
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	cancel()
	s.wg.Wait()
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "im running"})
}

func (s *Server) handleProofUser(w http.ResponseWriter, r *http.Request) {
	var req proof.UserProofRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AccessToken == "" {
		writeProofError(w, apperrors.ProofBadRequest)
		return
	}

	s.prove(w, r, "proof-user", FetchRequest{
		URL:    s.cfg.GitHubAPIURL + "/user",
		Method: http.MethodGet,
		PrivateHeaders: map[string]string{
			"Authorization": "Bearer " + req.AccessToken,
		},
		ResponseMatches: []ResponseMatch{{Type: "regex", Value: userIDPattern}},
	})
}

// prPullRequest accepts pullId as either a JSON string or number.
type prPullRequest struct {
	Org    string          `json:"org"`
	Repo   string          `json:"repo"`
	PullID json.RawMessage `json:"pullId"`
}

func (s *Server) handleProofPr(w http.ResponseWriter, r *http.Request) {
	var req prPullRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pullID, err := strconv.ParseUint(strings.Trim(string(req.PullID), `"`), 10, 64)
	if req.Org == "" || req.Repo == "" || err != nil || pullID == 0 {
		writeProofError(w, apperrors.ProofBadRequest)
		return
	}

	s.prove(w, r, "proof-pr", FetchRequest{
		URL: fmt.Sprintf("%s/repos/%s/%s/pulls/%d", s.cfg.GitHubAPIURL,
			url.PathEscape(req.Org), url.PathEscape(req.Repo), pullID),
		Method:          http.MethodGet,
		ResponseMatches: []ResponseMatch{{Type: "regex", Value: jsonPattern}},
	})
}

func (s *Server) handleProofRepoOwner(w http.ResponseWriter, r *http.Request) {
	var req proof.RepoOwnerProofRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RepoOwner == "" || req.Repo == "" || req.GithubUsername == "" || req.AccessToken == "" {
		writeProofError(w, apperrors.ProofBadRequest)
		return
	}

	s.prove(w, r, "proof-repo-owner", FetchRequest{
		URL: fmt.Sprintf("%s/repos/%s/%s/collaborators/%s/permission", s.cfg.GitHubAPIURL,
			url.PathEscape(req.RepoOwner), url.PathEscape(req.Repo), url.PathEscape(req.GithubUsername)),
		Method: http.MethodGet,
		PrivateHeaders: map[string]string{
			"Authorization": "Bearer " + req.AccessToken,
		},
		ResponseMatches: []ResponseMatch{{Type: "regex", Value: jsonPattern}},
	})
}

// prove attests fr with the next pool app and writes the outcome.
func (s *Server) prove(w http.ResponseWriter, r *http.Request, endpoint string, fr FetchRequest) {
	start := time.Now()
	s.metrics.ProofInFlight(1)
	defer s.metrics.ProofInFlight(-1)

	ctx := r.Context()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	app := s.pool.Next()
	data, err := s.attestor.Attest(ctx, app, fr)
	if err != nil {
		code := codeForAttestError(err)
		s.metrics.ProofRequest(endpoint, string(code), time.Since(start))
		logging.Warn("proof generation failed",
			"endpoint", endpoint,
			"app", app.ID,
			"code", string(code),
			logging.Err(err),
			logging.Component("proofd"))
		writeProofError(w, code)
		return
	}

	s.metrics.ProofRequest(endpoint, "ok", time.Since(start))
	logging.Debug("proof generated",
		"endpoint", endpoint,
		"app", app.ID,
		"duration", time.Since(start).String(),
		logging.Component("proofd"))
	writeJSON(w, http.StatusCreated, proof.Response{ProofData: data})
}

func codeForAttestError(err error) apperrors.ProofErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return apperrors.ProofCodeForStatus(pe.Status)
		}
	}
	return apperrors.ProofDatabaseError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeProofError(w, apperrors.ProofBadRequest)
		return false
	}
	return true
}

func writeProofError(w http.ResponseWriter, code apperrors.ProofErrorCode) {
	writeJSON(w, apperrors.StatusForProofCode(code), proof.ErrorResponse{
		Message:          string(code),
		ErrorDescription: errorDescriptions[code],
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, `{"message":"database_error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withMiddleware applies the per-IP rate limit to a proof endpoint.
func (s *Server) withMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimit > 0 {
			ip := s.extractClientIP(r)
			if !s.getRateLimiter(ip).Allow() {
				logging.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					logging.Component("proofd"))
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, proof.ErrorResponse{
					Message:          "rate_limited",
					ErrorDescription: "too many proof requests",
				})
				return
			}
		}
		handler(w, r)
	}
}

func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := time.Now()
	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.touch(now)
		return entry.limiter
	}

	entry := &rateLimiterEntry{
		limiter:  rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.Burst),
		lastSeen: now,
	}
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

func (e *rateLimiterEntry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

func (e *rateLimiterEntry) seen() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// extractClientIP trusts proxy headers only when TrustProxy is set.
func (s *Server) extractClientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) runRateLimiterCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.cleanupRateLimiters(now.Add(-10 * time.Minute))
		}
	}
}

// cleanupRateLimiters drops limiters idle since before cutoff.
func (s *Server) cleanupRateLimiters(cutoff time.Time) int {
	var cleaned int
	s.rateLimiters.Range(func(key, value any) bool {
		if value.(*rateLimiterEntry).seen().Before(cutoff) {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})
	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters", "count", cleaned, logging.Component("proofd"))
	}
	return cleaned
}
