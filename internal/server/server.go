package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/billingops/gcp-billing-exporter/internal/config"
	"github.com/billingops/gcp-billing-exporter/internal/logger"
	"github.com/billingops/gcp-billing-exporter/internal/snapshot"
	"github.com/billingops/gcp-billing-exporter/internal/version"
)

//go:embed templates/index.html
var indexTemplate string

// HTTP server timeout constants
const (
	DefaultReadTimeout  = 15 * time.Second // Maximum duration for reading the entire request
	DefaultWriteTimeout = 15 * time.Second // Maximum duration before timing out writes of the response
	DefaultIdleTimeout  = 60 * time.Second // Maximum amount of time to wait for the next request
)

// indexPageData holds template data for the index page
type indexPageData struct {
	StatusClass     string
	StatusText      string
	LastRefresh     string
	ServiceCount    int
	CurrencyCount   int
	RefreshInterval int
	MetricsPath     string
	ProjectID       string
	Version         string
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	cache  *snapshot.Cache
	cfg    *config.Config
	logger *logger.Logger
}

// NewServer creates the HTTP server. metrics is the exposition handler,
// mounted at the configured metrics path.
func NewServer(cfg *config.Config, cache *snapshot.Cache, metrics http.Handler, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      mux,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		cache:  cache,
		cfg:    cfg,
		logger: log,
	}

	if metrics == nil {
		metrics = promhttp.Handler()
	}

	// Register handlers
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/version", s.handleVersion)
	mux.Handle(cfg.MetricsPath, metrics)

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "address", s.server.Addr, "metrics_path", s.cfg.MetricsPath)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleIndex serves a simple landing page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	tmpl, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		s.logger.Error("Failed to parse index template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	snap, health := s.cache.Get()

	statusClass := "not-ready"
	statusText := "Waiting for first refresh"
	switch {
	case health.Up:
		statusClass = "ready"
		statusText = "Up"
	case !health.LastSuccessAt.IsZero():
		statusClass = "stale"
		statusText = "Serving stale data"
	}

	lastRefreshText := "Never"
	if !health.LastSuccessAt.IsZero() {
		lastRefreshText = health.LastSuccessAt.Format("2006-01-02 15:04:05 MST")
	}

	data := indexPageData{
		StatusClass:     statusClass,
		StatusText:      statusText,
		LastRefresh:     lastRefreshText,
		ServiceCount:    len(snap.ServiceCosts),
		CurrencyCount:   len(snap.TotalByCurrency),
		RefreshInterval: s.cfg.RefreshInterval,
		MetricsPath:     s.cfg.MetricsPath,
		ProjectID:       s.cfg.ProjectID,
		Version:         version.Version,
	}

	w.Header().Set("Content-Type", "text/html")
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.Error("Failed to execute index template", "error", err)
	}
}

// handleVersion serves the binary's build information
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(version.Info()); err != nil {
		s.logger.Error("Failed to write version response", "error", err)
	}
}

// handleHealth handles health check requests (always returns 200 for liveness)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
		s.logger.Error("Failed to write health response", "error", err)
	}
}

// handleReady reports readiness: 200 once a snapshot exists. A later failed
// refresh does not flip readiness, the cached snapshot keeps serving.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	_, health := s.cache.Get()
	if health.LastSuccessAt.IsZero() {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte(`{"status":"not ready","message":"waiting for initial refresh"}`)); err != nil {
			s.logger.Error("Failed to write ready response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ready"}`)); err != nil {
		s.logger.Error("Failed to write ready response", "error", err)
	}
}
