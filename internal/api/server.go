// Package api exposes the tracer and the bundle scorer over HTTP and
// WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Adacracker/MintTrail/internal/apperr"
	"github.com/Adacracker/MintTrail/internal/blockfrost"
	"github.com/Adacracker/MintTrail/internal/bundle"
	"github.com/Adacracker/MintTrail/internal/observability"
	"github.com/Adacracker/MintTrail/internal/ratelimit"
	"github.com/Adacracker/MintTrail/internal/trace"
)

const (
	traceFailed  = "Failed to trace token"
	bundleFailed = "Failed to analyze bundles"
)

// Tracer runs a mint trace.
type Tracer interface {
	Trace(ctx context.Context, tokenName string) (*trace.Result, error)
}

// BundleDetector runs a bundle analysis.
type BundleDetector interface {
	Detect(ctx context.Context, policyID string) (*bundle.Report, error)
}

// Options configure request handling.
type Options struct {
	TrustProxy     bool
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// Deps are the collaborators the server routes to. Metrics, Health and
// Upstream are optional.
type Deps struct {
	Tracer   Tracer
	Bundles  BundleDetector
	Limiter  *ratelimit.Limiter
	Metrics  *observability.Metrics
	Health   *observability.HealthMonitor
	Upstream blockfrost.Client
}

// Server is the MintTrail HTTP front end.
type Server struct {
	deps     Deps
	opts     Options
	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer creates a server.
func NewServer(deps Deps, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	s := &Server{deps: deps, opts: opts, started: time.Now()}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the routed handler with request-id, access-log and
// panic-recovery middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/trace-token", s.instrument("/api/trace-token", s.limited("/api/trace-token", s.handleTrace)))
	mux.Handle("POST /api/detect-bundles", s.instrument("/api/detect-bundles", s.limited("/api/detect-bundles", s.handleDetect)))

	mux.Handle("GET /health", s.instrument("/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /stats", s.instrument("/stats", http.HandlerFunc(s.handleStats)))
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return withRequestID(withAccessLog(withRecover(mux)))
}

// ---------------------------------------------------------------------------
// Analytical endpoints
// ---------------------------------------------------------------------------

type traceRequest struct {
	TokenName string `json:"tokenName"`
}

type detectRequest struct {
	PolicyID string `json:"policyId"`
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	var req traceRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err, traceFailed)
		return
	}
	if strings.TrimSpace(req.TokenName) == "" {
		writeError(w, r, apperr.Validation("tokenName is required"), traceFailed)
		return
	}

	result, err := s.deps.Tracer.Trace(r.Context(), req.TokenName)
	if err != nil {
		writeError(w, r, err, traceFailed)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveTrace(len(result.AdaFlow))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err, bundleFailed)
		return
	}

	report, err := s.deps.Bundles.Detect(r.Context(), req.PolicyID)
	if err != nil {
		writeError(w, r, err, bundleFailed)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveBundle(report.RiskScore, report.BundleDetected)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("Request body too large")
		}
		return apperr.Validation("Invalid JSON body")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Supporting endpoints
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		s.deps.Health.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": observability.StatusHealthy})
}

type upstreamStats interface {
	Stats() blockfrost.Stats
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	combined := map[string]any{
		"uptime_sec": int64(time.Since(s.started).Seconds()),
	}
	if s.deps.Limiter != nil {
		combined["ratelimit"] = s.deps.Limiter.Stats()
	}
	if src, ok := s.deps.Upstream.(upstreamStats); ok {
		combined["blockfrost"] = src.Stats()
	}
	writeJSON(w, http.StatusOK, combined)
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

// limited admits requests through the per-caller limiter.
func (s *Server) limited(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.admit(route, r); err != nil {
			writeError(w, r, err, "")
			return
		}
		next(w, r)
	})
}

// admit returns a RATE_LIMIT error when the caller has used its window.
func (s *Server) admit(route string, r *http.Request) error {
	if s.deps.Limiter == nil {
		return nil
	}
	d := s.deps.Limiter.Allow(callerKey(r, s.opts.TrustProxy))
	if d.Allowed {
		return nil
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveRateLimited(route)
	}
	return apperr.RateLimited(d.RetryAfter)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// errorBody is the JSON error shape shared by HTTP and WebSocket replies.
type errorBody struct {
	Status     int    `json:"status,omitempty"`
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	Details    string `json:"details,omitempty"`
}

// toErrorBody maps err onto its status and body. Validation, not-found and
// rate-limit errors carry their own message; anything else is reported as
// fallback with the failure in details.
func toErrorBody(err error, fallback string) (int, errorBody, time.Duration) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	status := e.HTTPStatus()
	switch e.Kind {
	case apperr.KindValidation, apperr.KindRateLimit:
		return status, errorBody{Error: e.Error()}, e.RetryAfter
	case apperr.KindNotFound:
		return status, errorBody{Error: e.Message, Suggestion: e.Suggestion}, 0
	default:
		return status, errorBody{Error: fallback, Details: e.Error()}, 0
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, body, retryAfter := toErrorBody(err, fallback)
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int((retryAfter+time.Second-1)/time.Second)))
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", RequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("api: request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("api: write response")
	}
}
