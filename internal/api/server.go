// Package api provides the HTTP surface: ring trigger/cancel/status
// endpoints, configuration CRUD, the event log, the dashboard and
// Prometheus metrics.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebas/sipring/internal/config"
	"github.com/sebas/sipring/internal/registry"
	"github.com/sebas/sipring/internal/store"
)

// Server is the HTTP server for triggering rings and managing configs.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	events     *store.EventLog
	recorder   *store.RingRecorder
	registry   *registry.Registry
	templates  *Templates
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(cfg *config.Config, st *store.Store, events *store.EventLog, recorder *store.RingRecorder, reg *registry.Registry) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		store:     st,
		events:    events,
		recorder:  recorder,
		registry:  reg,
		startTime: time.Now(),
	}

	var err error
	s.templates, err = NewTemplates()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	mux := http.NewServeMux()

	// Dashboard and health
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Ring triggers: /ring/{idOrSlug}[/cancel|/status]
	mux.HandleFunc("/ring/", s.handleRing)

	// Config CRUD and events
	mux.HandleFunc("/api/v1/configs", s.handleConfigs)
	mux.HandleFunc("/api/v1/configs/", s.handleConfigByID)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.withAuth(mux),
	}

	return s, nil
}

// Handler exposes the configured handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests.
func (s *Server) Start() {
	slog.Info("[API] starting HTTP server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[API] server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// withAuth enforces HTTP basic auth when credentials are configured.
// Health and metrics stay open for probes and scrapers.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled() || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="sipring"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authUser returns the authenticated username, if any.
func (s *Server) authUser(r *http.Request) string {
	if !s.cfg.AuthEnabled() {
		return ""
	}
	user, _, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	return user
}

// baseURL prefers the configured external URL over the request host.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime":%d}`, int64(time.Since(s.startTime).Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
