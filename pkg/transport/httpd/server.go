// Package httpd exposes the dispatcher over HTTP. The adapter only
// (de)serializes: every request carries explicit caller identity in the
// X-Gantry-User header and sessions are resolved per request, never by
// connection affinity. It also hosts the OAuth consent callback and the
// operational endpoints (health, metrics).
package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/auth"
	"github.com/gantryhq/gantry/pkg/dispatch"
	"github.com/gantryhq/gantry/pkg/tool"
	"github.com/gantryhq/gantry/pkg/transport"
)

const (
	userHeader     = "X-Gantry-User"
	maxRequestBody = 1 << 20
)

// Config holds HTTP transport configuration.
type Config struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration
	Logger             zerolog.Logger
	Gatherer           prometheus.Gatherer // nil disables /metrics
}

// Server is the HTTP transport adapter.
type Server struct {
	cfg         Config
	invoker     transport.Invoker
	registry    *tool.Registry
	resolver    *auth.Resolver
	server      *http.Server
	rateLimiter *RateLimiter
	startTime   time.Time

	shutdownMu sync.RWMutex
	draining   bool
	inFlight   sync.WaitGroup
}

// NewServer creates the HTTP adapter. resolver may be nil when no tool
// declares auth; the consent endpoints then answer 404.
func NewServer(cfg Config, invoker transport.Invoker, registry *tool.Registry, resolver *auth.Resolver) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 120
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{
		cfg:         cfg,
		invoker:     invoker,
		registry:    registry,
		resolver:    resolver,
		rateLimiter: NewRateLimiter(cfg.RateLimitPerMinute),
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/tools", s.handleListTools)
	mux.HandleFunc("/v1/tools/", s.handleInvoke)
	if resolver != nil {
		mux.HandleFunc("/v1/auth/callback", s.handleAuthCallback)
		mux.HandleFunc("/v1/auth/revoke", s.handleRevoke)
	}
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves until Shutdown. It blocks.
func (s *Server) Start() error {
	s.cfg.Logger.Info().Str("addr", s.server.Addr).Msg("HTTP transport listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight invocations and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.draining = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.cfg.Logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
	}

	s.rateLimiter.Stop()
	return s.server.Shutdown(ctx)
}

// handleInvoke serves POST /v1/tools/{name}.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.shutdownMu.RLock()
	draining := s.draining
	s.shutdownMu.RUnlock()
	if draining {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/v1/tools/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "unknown path")
		return
	}

	user := r.Header.Get(userHeader)
	if user == "" {
		writeError(w, http.StatusUnauthorized, fmt.Sprintf("missing %s header", userHeader))
		return
	}

	if !s.rateLimiter.Allow(user) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", s.rateLimiter.RetryAfter(user)))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var args map[string]any
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	result := s.invoker.Invoke(r.Context(), name, args, dispatch.Caller{User: user})
	writeJSON(w, http.StatusOK, transport.ResponseFor("", result))
}

// handleListTools serves GET /v1/tools.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Descriptors()})
}

// handleAuthCallback serves the out-of-band consent redirect:
// GET /v1/auth/callback?state=...&code=...
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "state and code query parameters are required")
		return
	}

	session, err := s.resolver.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("Consent callback failed")
		writeError(w, http.StatusBadRequest, "authorization could not be completed")
		return
	}

	s.cfg.Logger.Info().
		Str("user", session.User).
		Str("provider", session.Provider).
		Msg("Consent callback completed")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Authorization complete. You can close this window and retry your request.")
}

// handleRevoke serves POST /v1/auth/revoke with {"user": ..., "provider": ...}.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		User     string `json:"user"`
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.User == "" || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "user and provider are required")
		return
	}

	if err := s.resolver.Revoke(r.Context(), req.User, req.Provider); err != nil {
		writeError(w, http.StatusInternalServerError, "revocation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"tools":          s.registry.Count(),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
