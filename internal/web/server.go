// Package web provides the administrative HTTP API.
package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/ouiprox/internal/metrics"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/settings"
	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/util"
	"github.com/user/ouiprox/internal/watchlist"
)

// Engine is the part of the detection controller the API drives.
type Engine interface {
	Status() model.Status
	TogglePause() bool
	SetPaused(paused bool)

	Ignore(address string, minutes int) (model.IgnoreEntry, error)
	Ignored() []model.IgnoreEntry
	RemoveIgnore(address string) bool

	Subscribe(bufSize int) (<-chan model.DetectionEvent, func())

	Catalog() *watchlist.Catalog
	ReloadWatchlist() error
	Watchlist() []model.WatchlistEntry

	Settings() (settings.Settings, error)
	UpdateSettings(s settings.Settings) error

	DetectionLines() ([]string, error)
	ClearLog() error
}

// Server is the admin API server.
type Server struct {
	config  *util.Config
	engine  Engine
	db      *storage.DB
	metrics *metrics.Registry
	srv     *http.Server

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new admin API server. db may be nil, in which case the
// history endpoints report the store as unavailable.
func NewServer(cfg *util.Config, eng Engine, db *storage.DB) *Server {
	s := &Server{
		config:  cfg,
		engine:  eng,
		db:      db,
		metrics: metrics.Get(),
		done:    make(chan struct{}),
	}
	s.srv = &http.Server{
		Addr:         cfg.WebListen,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	h := NewHandlers(s.config, s.engine, s.db)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", h.APIGetStatus)
	mux.HandleFunc("GET /api/config", h.APIGetConfig)
	mux.HandleFunc("GET /api/settings", h.APIGetSettings)
	mux.HandleFunc("PUT /api/settings", h.APIUpdateSettings)

	mux.HandleFunc("POST /api/pause", h.APITogglePause)
	mux.HandleFunc("POST /api/resume", h.APIResume)

	mux.HandleFunc("POST /api/ignore", h.APIIgnore)
	mux.HandleFunc("GET /api/ignored", h.APIGetIgnored)
	mux.HandleFunc("DELETE /api/ignored/{mac}", h.APIRemoveIgnore)

	mux.HandleFunc("GET /api/devices", h.APIGetDevices)
	mux.HandleFunc("POST /api/clear-log", h.APIClearLog)
	mux.HandleFunc("GET /api/detections", h.APIGetDetections)

	mux.HandleFunc("GET /api/lists", h.APIGetLists)
	mux.HandleFunc("GET /api/lists-status", h.APIGetListsStatus)
	mux.HandleFunc("POST /api/toggle-list", h.APIToggleList)
	mux.HandleFunc("POST /api/create-list", h.APICreateList)
	mux.HandleFunc("POST /api/add-device", h.APIAddDevice)
	mux.HandleFunc("POST /api/remove-device", h.APIRemoveDevice)
	mux.HandleFunc("GET /api/watchlist", h.APIGetWatchlist)

	mux.Handle("GET /api/ws", newStream(s.engine, s.config.EventBuffer, s.metrics, s.done))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /report", h.DownloadReport)

	return s.instrument(mux)
}

// Start starts the web server. It blocks until Stop is called.
func (s *Server) Start() error {
	util.Info("Admin API listening on %s", s.config.WebListen)

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop stops the web server and closes live streams.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordAPIRequest(r.Method, route, rec.status, time.Since(start).Seconds())
		if r.URL.Path != "/metrics" {
			util.Debug("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade reach the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
