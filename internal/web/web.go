package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"calnews/internal/config"
	appLog "calnews/internal/log"
	"calnews/internal/metrics"
	"calnews/internal/model"
	"calnews/internal/pipeline"
)

// Newsletter is the part of the pipeline the web endpoints drive.
type Newsletter interface {
	Buckets(ctx context.Context) (model.Buckets, error)
	Prepare(ctx context.Context) (pipeline.Result, error)
	Run(ctx context.Context) (pipeline.Result, error)
}

// Server exposes the newsletter pipeline over HTTP.
type Server struct {
	cfg     *config.Config
	nl      Newsletter
	metrics *metrics.Metrics
	mux     *http.ServeMux

	// In-memory cache for /api/events responses so a dashboard polling the
	// endpoint does not refetch the feed on every request.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache
}

const eventsCacheTTL = 30 * time.Second

// PreviewPNGPath is where the last snapshot is stored under cacheDir.
func PreviewPNGPath(cacheDir string) string {
	return filepath.Join(cacheDir, "preview.png")
}

// NewServer constructs a new Server. m may be nil, in which case /metrics
// is not registered.
func NewServer(cfg *config.Config, nl Newsletter, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		nl:      nl,
		metrics: m,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calnews", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/send", s.handleSend)
	s.mux.HandleFunc("GET /preview", s.handlePreview)
	s.mux.HandleFunc("GET /preview.png", s.handlePreviewPNG)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Before      []model.Event `json:"before"`
	After       []model.Event `json:"after"`
	Skipped     int           `json:"skipped"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// eventsCache holds a cached /api/events response and its timestamp.
type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

// handleEvents returns the two buckets the next newsletter would contain.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && now.Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	b, err := s.nl.Buckets(r.Context())
	if err != nil {
		appLog.Error("api events: bucket build failed", err)
		writeError(w, statusFor(err), "failed to load events")
		return
	}

	resp := eventsResponse{
		Before:      nonNil(b.Before),
		After:       nonNil(b.After),
		Skipped:     len(b.Skipped),
		GeneratedAt: now,
	}

	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{resp: resp, updatedAt: now}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// handlePreview renders the newsletter without sending it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, err := s.nl.Prepare(r.Context())
	if err != nil {
		appLog.Error("preview failed", err)
		http.Error(w, "preview unavailable", statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.HTML))
}

// handlePreviewPNG serves the last captured snapshot from disk.
func (s *Server) handlePreviewPNG(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile maps a missing file to 404.
	http.ServeFile(w, r, PreviewPNGPath(s.cfg.CacheDir))
}

type sendResponse struct {
	RunID  string `json:"run_id"`
	Sent   bool   `json:"sent"`
	Before int    `json:"before"`
	After  int    `json:"after"`
	Reason string `json:"reason,omitempty"`
}

// handleSend triggers a run outside the schedule.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	// The run outlives a client that hangs up.
	ctx := context.WithoutCancel(r.Context())

	appLog.Info("manual send requested", "remote", r.RemoteAddr)
	res, err := s.nl.Run(ctx)
	resp := sendResponse{
		RunID:  res.RunID,
		Sent:   res.Sent,
		Before: len(res.Buckets.Before),
		After:  len(res.Buckets.After),
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, pipeline.ErrNothingToSend):
		resp.Reason = err.Error()
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, statusFor(err), err.Error())
	}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var (
		fe *pipeline.FeedFetchError
		me *pipeline.MailDeliveryError
	)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	case errors.As(err, &fe), errors.As(err, &me):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(events []model.Event) []model.Event {
	if events == nil {
		return []model.Event{}
	}
	return events
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
