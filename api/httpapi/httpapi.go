package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	wsadapter "agilitytrack/adapters/websocket"
	"agilitytrack/engine"
	"agilitytrack/leaderboard"
	"agilitytrack/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup evicts idle client limiters; defaults to 5m.
	RateLimitCleanup time.Duration
	// Leaderboard, if set, is served at {prefix}/leaderboard.
	Leaderboard leaderboard.Board
	// Metrics, if set, is served at MetricsPath (outside the prefix and auth).
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

type api struct {
	svc      *engine.TrackerService
	board    leaderboard.Board
	validate *validator.Validate
	logger   *slog.Logger
}

// NewMux builds an http.Handler exposing the tracker REST API and WebSocket stream.
// Routes:
//   - GET    {prefix}/healthz
//   - GET    {prefix}/dogs, POST {prefix}/dogs
//   - GET    {prefix}/dogs/{id}, DELETE {prefix}/dogs/{id}
//   - GET    {prefix}/dogs/{id}/runs, POST {prefix}/dogs/{id}/runs
//   - POST   {prefix}/dogs/{id}/runs/import
//   - PUT    {prefix}/dogs/{id}/runs/{runId}, DELETE {prefix}/dogs/{id}/runs/{runId}
//   - POST   {prefix}/dogs/{id}/recalculate
//   - GET    {prefix}/dogs/{id}/progress
//   - GET    {prefix}/dogs/{id}/diagnostics
//   - GET    {prefix}/leaderboard?limit=10
//   - WS     {prefix}/ws?dog_id=...
func NewMux(svc *engine.TrackerService, hub *realtime.Hub, opts Options) http.Handler {
	a := &api{
		svc:      svc,
		board:    opts.Leaderboard,
		validate: newValidator(),
		logger:   opts.Logger,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", a.healthCheck)
	route(http.MethodGet, "/dogs", a.listDogs)
	route(http.MethodPost, "/dogs", a.createDog)
	route(http.MethodGet, "/dogs/{id}", a.getDog)
	route(http.MethodDelete, "/dogs/{id}", a.deleteDog)
	route(http.MethodGet, "/dogs/{id}/runs", a.listRuns)
	route(http.MethodPost, "/dogs/{id}/runs", a.recordRun)
	route(http.MethodPost, "/dogs/{id}/runs/import", a.importRuns)
	route(http.MethodPut, "/dogs/{id}/runs/{runId}", a.updateRun)
	route(http.MethodDelete, "/dogs/{id}/runs/{runId}", a.deleteRun)
	route(http.MethodPost, "/dogs/{id}/recalculate", a.recalculate)
	route(http.MethodGet, "/dogs/{id}/progress", a.progress)
	route(http.MethodGet, "/dogs/{id}/diagnostics", a.diagnose)
	if a.board != nil {
		route(http.MethodGet, "/leaderboard", a.leaderboard)
	}
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	var handler http.Handler = mux
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		cleanup := opts.RateLimitCleanup
		if cleanup <= 0 {
			cleanup = 5 * time.Minute
		}
		handler = withRateLimit(handler, newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, cleanup))
	}
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		outer := http.NewServeMux()
		outer.Handle(path, opts.Metrics)
		outer.Handle("/", handler)
		handler = outer
	}
	return handler
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details})
}
