package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/apd/v3"
)

// Source is the interface a billing data warehouse must implement. Fetch is
// read-only and idempotent; implementations own their retry and timeout
// policy and report failures as *QueryError.
type Source interface {
	// Fetch returns the aggregated billing rows covering the period's query
	// range.
	Fetch(ctx context.Context, period Period) ([]Row, error)

	// Name returns the warehouse kind (bigquery, etc.), used in logs.
	Name() string
}

// Row is a single aggregation result from the warehouse. Immutable once
// returned.
type Row struct {
	Project   string
	Service   string // empty when the export carries no service description
	ServiceID string // stable service identifier, empty when absent
	Currency  string
	Date      civil.Date // zero value when the row has no date dimension
	Cost      *apd.Decimal
}

// HasDate reports whether the row carries a usage date dimension.
func (r Row) HasDate() bool {
	return r.Date.IsValid()
}

// Period describes the aggregation windows of one refresh, anchored to a
// single report time zone so month boundaries never drift against the
// dashboards consuming the metrics. All bounds are half-open: a date d is in
// a range when start <= d < end.
type Period struct {
	Today          civil.Date // first excluded day; only complete days are reported
	MonthStart     civil.Date
	PrevMonthStart civil.Date
	WindowStart    civil.Date
	WindowDays     int
	Location       *time.Location
}

// NewPeriod derives the aggregation windows for the given instant. windowDays
// is the length of the trailing daily series; the series ends yesterday so it
// only ever contains complete days.
func NewPeriod(now time.Time, loc *time.Location, windowDays int) Period {
	today := civil.DateOf(now.In(loc))
	monthStart := civil.Date{Year: today.Year, Month: today.Month, Day: 1}

	prevMonthStart := civil.Date{Year: today.Year, Month: today.Month - 1, Day: 1}
	if today.Month == time.January {
		prevMonthStart = civil.Date{Year: today.Year - 1, Month: time.December, Day: 1}
	}

	return Period{
		Today:          today,
		MonthStart:     monthStart,
		PrevMonthStart: prevMonthStart,
		WindowStart:    today.AddDays(-windowDays),
		WindowDays:     windowDays,
		Location:       loc,
	}
}

// QueryStart is the earliest instant the warehouse query must cover: the
// previous month start or the daily window start, whichever is older.
func (p Period) QueryStart() time.Time {
	start := p.PrevMonthStart
	if p.WindowStart.Before(start) {
		start = p.WindowStart
	}
	return midnight(start, p.Location)
}

// QueryEnd is the first excluded instant (midnight today), so the partial
// current day never leaks into the aggregates.
func (p Period) QueryEnd() time.Time {
	return midnight(p.Today, p.Location)
}

// InCurrentMonth reports whether d belongs to the month-to-date range.
func (p Period) InCurrentMonth(d civil.Date) bool {
	return !d.Before(p.MonthStart) && d.Before(p.Today)
}

// InWindow reports whether d belongs to the trailing daily window.
func (p Period) InWindow(d civil.Date) bool {
	return !d.Before(p.WindowStart) && d.Before(p.Today)
}

// InPreviousMonth reports whether d falls inside the prior calendar month.
func (p Period) InPreviousMonth(d civil.Date) bool {
	return !d.Before(p.PrevMonthStart) && d.Before(p.MonthStart)
}

// WindowDates returns every date of the daily window in ascending order,
// always exactly WindowDays entries.
func (p Period) WindowDates() []civil.Date {
	dates := make([]civil.Date, 0, p.WindowDays)
	for d := p.WindowStart; d.Before(p.Today); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates
}

func midnight(d civil.Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// QueryError wraps any upstream failure of a Source. Transient failures
// (timeouts, throttling, 5xx) are worth retrying; permanent ones
// (authorization, missing table, bad query) are not.
type QueryError struct {
	Transient bool
	Err       error
}

// NewTransientError wraps a retryable upstream failure.
func NewTransientError(err error) *QueryError {
	return &QueryError{Transient: true, Err: err}
}

// NewPermanentError wraps a non-retryable upstream failure.
func NewPermanentError(err error) *QueryError {
	return &QueryError{Err: err}
}

func (e *QueryError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("billing query failed (%s): %v", kind, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable query failure.
func IsTransient(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Transient
}

// IsPermanent reports whether err is a query failure that retrying cannot
// fix (bad credentials, missing table, malformed query).
func IsPermanent(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && !qe.Transient
}
