package transform

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/apd/v3"

	"github.com/billingops/gcp-billing-exporter/internal/snapshot"
	"github.com/billingops/gcp-billing-exporter/internal/warehouse"
)

// UnspecifiedService is the bucket for rows whose export carries no service
// description. Keeping them in a sentinel bucket instead of dropping them is
// what makes the per-service breakdown reconcile exactly with the totals.
const UnspecifiedService = "unspecified"

// decCtx matches BigQuery NUMERIC precision; enough that summing billing
// rows never rounds.
var decCtx = apd.BaseContext.WithPrecision(34)

// Error reports a structurally invalid input row. The transformer never
// emits a snapshot when any row is malformed.
type Error struct {
	Index  int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("malformed billing row %d: %s", e.Index, e.Reason)
}

// Transform aggregates billing rows into a snapshot for the given period.
// Pure function of its inputs plus now (stamped as ComputedAt); rows are
// routed by usage date:
//
//   - current calendar month (or no date)  -> totals and per-service costs
//   - trailing daily window                -> daily series (dense-filled)
//     and the per-service daily breakdown
//   - previous calendar month              -> previous-month totals
//
// A dated row may feed both the daily series and the previous-month total
// when the window crosses the month boundary; each family is summed
// independently.
func Transform(rows []warehouse.Row, period warehouse.Period, now time.Time) (*snapshot.Snapshot, error) {
	for i, row := range rows {
		if row.Currency == "" {
			return nil, &Error{Index: i, Reason: "missing currency"}
		}
		if row.Cost == nil {
			return nil, &Error{Index: i, Reason: "missing cost"}
		}
	}

	snap := snapshot.Empty()

	for _, row := range rows {
		service := row.Service
		if service == "" {
			service = UnspecifiedService
		}

		if !row.HasDate() || period.InCurrentMonth(row.Date) {
			addTo(snap.TotalByCurrency, row.Currency, row.Cost)
			addToService(snap.ServiceCosts, snapshot.ServiceKey{
				Service:   service,
				ServiceID: row.ServiceID,
				Currency:  row.Currency,
			}, row.Cost)
		}

		if row.HasDate() && period.InWindow(row.Date) {
			addToDailyService(snap.DailyByService, snapshot.DailyServiceKey{
				Date:      row.Date,
				Service:   service,
				ServiceID: row.ServiceID,
				Currency:  row.Currency,
			}, row.Cost)
		}

		if row.HasDate() && period.InPreviousMonth(row.Date) {
			addTo(snap.PrevMonthByCurrency, row.Currency, row.Cost)
		}
	}

	snap.Daily = dailySeries(rows, period)
	snap.ComputedAt = now
	return snap, nil
}

// dailySeries builds the trailing window, one point per day with zero fill,
// so the series is always exactly period.WindowDays long with no gaps.
func dailySeries(rows []warehouse.Row, period warehouse.Period) []snapshot.DailyPoint {
	currencies := map[string]bool{}
	for _, row := range rows {
		if row.HasDate() && period.InWindow(row.Date) {
			currencies[row.Currency] = true
		}
	}

	points := make([]snapshot.DailyPoint, 0, period.WindowDays)
	index := make(map[civil.Date]int, period.WindowDays)
	for _, date := range period.WindowDates() {
		costs := make(map[string]*apd.Decimal, len(currencies))
		for currency := range currencies {
			costs[currency] = apd.New(0, 0)
		}
		index[date] = len(points)
		points = append(points, snapshot.DailyPoint{Date: date, Costs: costs})
	}

	for _, row := range rows {
		if !row.HasDate() || !period.InWindow(row.Date) {
			continue
		}
		point := points[index[row.Date]]
		decCtx.Add(point.Costs[row.Currency], point.Costs[row.Currency], row.Cost)
	}

	return points
}

func addTo(m map[string]*apd.Decimal, currency string, cost *apd.Decimal) {
	cur, ok := m[currency]
	if !ok {
		cur = apd.New(0, 0)
		m[currency] = cur
	}
	decCtx.Add(cur, cur, cost)
}

func addToService(m map[snapshot.ServiceKey]*apd.Decimal, key snapshot.ServiceKey, cost *apd.Decimal) {
	cur, ok := m[key]
	if !ok {
		cur = apd.New(0, 0)
		m[key] = cur
	}
	decCtx.Add(cur, cur, cost)
}

func addToDailyService(m map[snapshot.DailyServiceKey]*apd.Decimal, key snapshot.DailyServiceKey, cost *apd.Decimal) {
	cur, ok := m[key]
	if !ok {
		cur = apd.New(0, 0)
		m[key] = cur
	}
	decCtx.Add(cur, cur, cost)
}
