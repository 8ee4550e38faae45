// Package config loads the exporter configuration from a YAML file, applies
// GCP_BILLING_* environment overrides and defaults, and validates the
// result, including the report time zone.
package config
