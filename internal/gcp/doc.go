// Package gcp implements warehouse.Source against the BigQuery billing
// export: table discovery, a single grouped aggregation query per refresh,
// and retry with error classification.
package gcp
