package collector

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/billingops/gcp-billing-exporter/internal/snapshot"
)

// BillingCollector exposes the cached billing snapshot as Prometheus
// metrics. Collect reads the cache exactly once per scrape, so every metric
// in one exposition comes from the same refresh.
type BillingCollector struct {
	cache            *snapshot.Cache
	projectID        string
	billingAccountID string

	costDesc               *prometheus.Desc
	costTotalDesc          *prometheus.Desc
	costDailyDesc          *prometheus.Desc
	costDailyByServiceDesc *prometheus.Desc
	costPrevMonthDesc      *prometheus.Desc
	upDesc                 *prometheus.Desc
	errorDesc              *prometheus.Desc
	lastRefreshDesc        *prometheus.Desc
	refreshDurationDesc    *prometheus.Desc
	refreshesDesc          *prometheus.Desc
	failuresDesc           *prometheus.Desc
}

// Verify that BillingCollector implements prometheus.Collector
var _ prometheus.Collector = (*BillingCollector)(nil)

// NewBillingCollector creates a collector serving from cache. projectID and
// billingAccountID become constant identifying labels on the cost metrics.
func NewBillingCollector(cache *snapshot.Cache, projectID, billingAccountID string) *BillingCollector {
	accountLabels := prometheus.Labels{
		"project":            projectID,
		"billing_account_id": billingAccountID,
	}

	return &BillingCollector{
		cache:            cache,
		projectID:        projectID,
		billingAccountID: billingAccountID,

		costDesc: prometheus.NewDesc(
			"gcp_billing_cost",
			"Month-to-date cost per service",
			[]string{"service", "service_id", "currency"},
			accountLabels,
		),
		costTotalDesc: prometheus.NewDesc(
			"gcp_billing_cost_total",
			"Month-to-date cost across all services",
			[]string{"currency"},
			accountLabels,
		),
		costDailyDesc: prometheus.NewDesc(
			"gcp_billing_cost_daily",
			"Cost of one complete day in the trailing window",
			[]string{"date", "currency"},
			accountLabels,
		),
		costDailyByServiceDesc: prometheus.NewDesc(
			"gcp_billing_cost_daily_by_service",
			"Cost of one complete day in the trailing window, per service",
			[]string{"date", "service", "service_id", "currency"},
			accountLabels,
		),
		costPrevMonthDesc: prometheus.NewDesc(
			"gcp_billing_cost_previous_month",
			"Total cost of the previous calendar month",
			[]string{"currency"},
			accountLabels,
		),
		upDesc: prometheus.NewDesc(
			"gcp_billing_exporter_up",
			"1 when the most recent billing refresh succeeded",
			nil, prometheus.Labels{"project": projectID},
		),
		errorDesc: prometheus.NewDesc(
			"gcp_billing_exporter_error",
			"1 when the most recent billing refresh attempt failed",
			nil, prometheus.Labels{"project": projectID},
		),
		lastRefreshDesc: prometheus.NewDesc(
			"gcp_billing_exporter_last_refresh_timestamp_seconds",
			"Unix timestamp of the last successful refresh",
			nil, nil,
		),
		refreshDurationDesc: prometheus.NewDesc(
			"gcp_billing_exporter_refresh_duration_seconds",
			"Duration of the most recent refresh attempt",
			nil, nil,
		),
		refreshesDesc: prometheus.NewDesc(
			"gcp_billing_exporter_refreshes_total",
			"Number of successful refreshes since start",
			nil, nil,
		),
		failuresDesc: prometheus.NewDesc(
			"gcp_billing_exporter_refresh_failures_total",
			"Number of failed refresh attempts since start",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *BillingCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.costDesc
	ch <- c.costTotalDesc
	ch <- c.costDailyDesc
	ch <- c.costDailyByServiceDesc
	ch <- c.costPrevMonthDesc
	ch <- c.upDesc
	ch <- c.errorDesc
	ch <- c.lastRefreshDesc
	ch <- c.refreshDurationDesc
	ch <- c.refreshesDesc
	ch <- c.failuresDesc
}

// Collect implements prometheus.Collector
func (c *BillingCollector) Collect(ch chan<- prometheus.Metric) {
	snap, health := c.cache.Get()

	for _, key := range snap.Services() {
		v, _ := snap.ServiceCosts[key].Float64()
		ch <- prometheus.MustNewConstMetric(c.costDesc,
			prometheus.GaugeValue, v, key.Service, key.ServiceID, key.Currency)
	}

	for _, currency := range snap.Currencies() {
		v, _ := snap.TotalByCurrency[currency].Float64()
		ch <- prometheus.MustNewConstMetric(c.costTotalDesc,
			prometheus.GaugeValue, v, currency)
	}

	for _, point := range snap.Daily {
		date := point.Date.String()
		for _, currency := range sortedCurrencies(point) {
			v, _ := point.Costs[currency].Float64()
			ch <- prometheus.MustNewConstMetric(c.costDailyDesc,
				prometheus.GaugeValue, v, date, currency)
		}
	}

	for _, key := range snap.DailyServices() {
		v, _ := snap.DailyByService[key].Float64()
		ch <- prometheus.MustNewConstMetric(c.costDailyByServiceDesc,
			prometheus.GaugeValue, v, key.Date.String(), key.Service, key.ServiceID, key.Currency)
	}

	for _, currency := range snap.PrevMonthCurrencies() {
		v, _ := snap.PrevMonthByCurrency[currency].Float64()
		ch <- prometheus.MustNewConstMetric(c.costPrevMonthDesc,
			prometheus.GaugeValue, v, currency)
	}

	ch <- prometheus.MustNewConstMetric(c.upDesc,
		prometheus.GaugeValue, boolValue(health.Up))
	ch <- prometheus.MustNewConstMetric(c.errorDesc,
		prometheus.GaugeValue, boolValue(health.LastError != ""))

	lastRefresh := 0.0
	if !health.LastSuccessAt.IsZero() {
		lastRefresh = float64(health.LastSuccessAt.Unix())
	}
	ch <- prometheus.MustNewConstMetric(c.lastRefreshDesc,
		prometheus.GaugeValue, lastRefresh)
	ch <- prometheus.MustNewConstMetric(c.refreshDurationDesc,
		prometheus.GaugeValue, health.LastDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(c.refreshesDesc,
		prometheus.CounterValue, float64(health.Refreshes))
	ch <- prometheus.MustNewConstMetric(c.failuresDesc,
		prometheus.CounterValue, float64(health.Failures))
}

func sortedCurrencies(p snapshot.DailyPoint) []string {
	currencies := make([]string, 0, len(p.Costs))
	for currency := range p.Costs {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)
	return currencies
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
