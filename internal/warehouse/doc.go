// Package warehouse defines the billing data source abstraction.
//
// A Source issues read-only aggregation queries against a billing data
// warehouse and returns typed rows. The package also owns the Period type,
// which pins every aggregation window (month-to-date, trailing daily window,
// previous calendar month) to a single configured report time zone, and the
// QueryError taxonomy separating transient upstream failures from permanent
// ones.
//
// Keeping the contract here lets the refresh pipeline and its tests run
// against any Source implementation; internal/gcp provides the BigQuery one.
package warehouse
