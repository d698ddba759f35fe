package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/contentmirror/internal/collector"
	"github.com/agentworkforce/contentmirror/internal/config"
	"github.com/agentworkforce/contentmirror/internal/runlock"
)

// Runner is the part of collector.Syncer the HTTP surface drives.
type Runner interface {
	Run(ctx context.Context) (collector.RunResult, error)
	Config() *config.RunConfig
	LastRun() (collector.RunResult, bool)
	LockStatus(ctx context.Context) (runlock.Status, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	// AdminJWTSecret protects the status and events routes when set.
	AdminJWTSecret  string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	Events          *Hub
	Logger          Logger
}

type Server struct {
	runner      Runner
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(runner Runner) *Server {
	return NewServerWithConfig(runner, ServerConfig{})
}

func NewServerWithConfig(runner Runner, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Events == nil {
		cfg.Events = NewHub(0)
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		runner:      runner,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

// Events is the hub runs publish to; pass it to the syncer as its EventSink.
func (s *Server) Events() *Hub {
	return s.cfg.Events
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	// The prefix is read per request so a reloaded config takes effect
	// without restarting the listener.
	prefix := "/" + strings.Trim(s.runner.Config().HookPrefix, "/") + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	route := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch {
	case route == "update" && (r.Method == http.MethodPost || r.Method == http.MethodGet):
		if !s.allow(w, r) {
			return
		}
		s.handleUpdate(w, r)
	case route == "status" && r.Method == http.MethodGet:
		if !s.authorizeAdmin(w, r) {
			return
		}
		s.handleStatus(w, r)
	case route == "events" && r.Method == http.MethodGet:
		if !s.authorizeAdmin(w, r) {
			return
		}
		s.handleEvents(w, r)
	case route == "dashboard" && r.Method == http.MethodGet:
		s.handleDashboard(w, r)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if secret := s.runner.Config().WebhookSecret; secret != "" {
		if authErr := verifyWebhookSignature(secret, r.Header.Get(signatureHeader), body); authErr != nil {
			writeError(w, authErr.status, authErr.message)
			return
		}
	}

	// A caller that hangs up must not abort a run halfway through the tree.
	ctx := context.WithoutCancel(r.Context())
	result, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, collector.ErrLocked):
		writeJSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "message": "locked"})
	case err != nil:
		s.logf("webhook %s: %v", result.RunID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Sites synchronized"})
	}
}

type statusResponse struct {
	Lock        runlock.Status       `json:"lock"`
	LastRun     *collector.RunResult `json:"lastRun,omitempty"`
	Collections []string             `json:"collections"`
	Subscribers int                  `json:"subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	lock, err := s.runner.LockStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := statusResponse{
		Lock:        lock,
		Collections: s.runner.Config().Collections(),
		Subscribers: s.cfg.Events.Subscribers(),
	}
	if last, ok := s.runner.LastRun(); ok {
		resp.LastRun = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.AdminJWTSecret == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	// Browsers cannot set headers on a websocket handshake.
	if header == "" && r.URL.Query().Get("access_token") != "" {
		header = "Bearer " + r.URL.Query().Get("access_token")
	}
	if _, authErr := authorizeBearer(header, s.cfg.AdminJWTSecret, scopeMirrorRead, time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.message)
		return false
	}
	return true
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.rateLimiter == nil {
		return true
	}
	if s.rateLimiter.allow(clientKey(r), time.Now().UTC()) {
		return true
	}
	retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Printf(format, args...)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError uses the webhook's {"status":"error","message":...} shape on
// every route so callers only parse one error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
