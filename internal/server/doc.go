// Package server provides the HTTP surface: the metrics exposition at the
// configured path, liveness and readiness probes, a version endpoint and a
// status landing page. Handlers read only the snapshot cache and never reach
// the warehouse.
package server
