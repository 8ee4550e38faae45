// Package collector renders the cached billing snapshot into Prometheus
// metrics.
package collector
