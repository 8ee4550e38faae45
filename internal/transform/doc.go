// Package transform turns raw warehouse billing rows into immutable
// snapshots: per-currency totals, a per-service breakdown, a dense daily
// series over the trailing window, and previous-month totals. All sums use
// exact decimal arithmetic so the breakdown reconciles with the totals.
package transform
