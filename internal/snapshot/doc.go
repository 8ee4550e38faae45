// Package snapshot holds the exporter's only mutable state: the latest
// successfully computed metric snapshot plus refresh health, behind an
// atomically swapped cache.
//
// The refresh scheduler is the sole writer; the HTTP scrape path reads
// concurrently without locks. When a refresh fails the snapshot is left in
// place and only the health changes, so the exporter degrades to serving
// stale data rather than empty data.
package snapshot
