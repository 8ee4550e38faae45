package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/billingops/gcp-billing-exporter/internal/collector"
	"github.com/billingops/gcp-billing-exporter/internal/config"
	"github.com/billingops/gcp-billing-exporter/internal/logger"
	"github.com/billingops/gcp-billing-exporter/internal/snapshot"
	"github.com/billingops/gcp-billing-exporter/internal/version"
)

func testConfig() *config.Config {
	return &config.Config{
		ProjectID:       "my-project",
		Dataset:         "billing",
		MetricsPath:     "/metrics",
		HTTPPort:        9091,
		RefreshInterval: 3600,
	}
}

func testServer(t *testing.T, cache *snapshot.Cache) *Server {
	t.Helper()
	log := logger.NewWithWriter(io.Discard, "error")

	reg := prometheus.NewRegistry()
	if err := reg.Register(collector.NewBillingCollector(cache, "my-project", "01AB")); err != nil {
		t.Fatalf("register collector: %v", err)
	}
	metrics := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return NewServer(testConfig(), cache, metrics, log)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func freshSnapshot() (*snapshot.Snapshot, snapshot.Health) {
	snap := snapshot.Empty()
	snap.TotalByCurrency["USD"] = apd.New(125, -1)
	snap.ComputedAt = time.Unix(1700000000, 0)
	health := snapshot.Health{
		Up:            true,
		LastSuccessAt: time.Unix(1700000000, 0),
		LastAttemptAt: time.Unix(1700000000, 0),
		Refreshes:     1,
	}
	return snap, health
}

func TestHealthAlwaysOK(t *testing.T) {
	s := testServer(t, snapshot.NewCache())

	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("/health body = %q", rec.Body.String())
	}
}

func TestReadyBeforeFirstRefresh(t *testing.T) {
	s := testServer(t, snapshot.NewCache())

	rec := get(t, s, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready status = %d, want 503", rec.Code)
	}
}

func TestReadyAfterFirstRefresh(t *testing.T) {
	cache := snapshot.NewCache()
	cache.Update(freshSnapshot())
	s := testServer(t, cache)

	rec := get(t, s, "/ready")
	if rec.Code != http.StatusOK {
		t.Errorf("/ready status = %d, want 200", rec.Code)
	}
}

func TestReadyStaysReadyAfterFailure(t *testing.T) {
	cache := snapshot.NewCache()
	cache.Update(freshSnapshot())

	_, health := cache.Get()
	health.Up = false
	health.LastError = "upstream down"
	cache.SetHealth(health)

	s := testServer(t, cache)
	rec := get(t, s, "/ready")
	if rec.Code != http.StatusOK {
		t.Errorf("/ready status after failure = %d, want 200", rec.Code)
	}
}

func TestMetricsScrapeServesStaleData(t *testing.T) {
	cache := snapshot.NewCache()
	cache.Update(freshSnapshot())

	_, health := cache.Get()
	health.Up = false
	health.LastError = "access denied"
	health.Failures = 1
	cache.SetHealth(health)

	s := testServer(t, cache)
	rec := get(t, s, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `gcp_billing_cost_total{billing_account_id="01AB",currency="USD",project="my-project"} 12.5`) {
		t.Errorf("stale cost missing from scrape:\n%s", body)
	}
	if !strings.Contains(body, `gcp_billing_exporter_up{project="my-project"} 0`) {
		t.Errorf("up gauge not 0 on stale scrape:\n%s", body)
	}
	if !strings.Contains(body, `gcp_billing_exporter_error{project="my-project"} 1`) {
		t.Errorf("error gauge not 1 on stale scrape:\n%s", body)
	}
}

func TestCustomMetricsPath(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsPath = "/prom"

	cache := snapshot.NewCache()
	cache.Update(freshSnapshot())

	reg := prometheus.NewRegistry()
	if err := reg.Register(collector.NewBillingCollector(cache, "my-project", "01AB")); err != nil {
		t.Fatalf("register collector: %v", err)
	}
	s := NewServer(cfg, cache, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger.NewWithWriter(io.Discard, "error"))

	rec := get(t, s, "/prom")
	if rec.Code != http.StatusOK {
		t.Errorf("custom metrics path status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gcp_billing_cost_total") {
		t.Errorf("custom path did not serve metrics")
	}
}

func TestIndexPage(t *testing.T) {
	cache := snapshot.NewCache()
	cache.Update(freshSnapshot())
	s := testServer(t, cache)

	rec := get(t, s, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("/ status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "GCP Billing Exporter") || !strings.Contains(body, "my-project") {
		t.Errorf("index page missing expected content:\n%s", body)
	}
}

func TestVersionEndpoint(t *testing.T) {
	s := testServer(t, snapshot.NewCache())

	rec := get(t, s, "/version")
	if rec.Code != http.StatusOK {
		t.Fatalf("/version status = %d, want 200", rec.Code)
	}

	var info version.BuildInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("/version body is not valid JSON: %v", err)
	}
	if info.Version == "" || info.GoVersion == "" {
		t.Errorf("/version missing fields: %+v", info)
	}
}

func TestIndexUnknownPath(t *testing.T) {
	s := testServer(t, snapshot.NewCache())

	rec := get(t, s, "/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("/nope status = %d, want 404", rec.Code)
	}
}
