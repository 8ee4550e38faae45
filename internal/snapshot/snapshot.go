package snapshot

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/apd/v3"
)

// ServiceKey identifies one per-service cost bucket. Services reporting in
// several currencies get one bucket per currency; currencies are never
// converted into each other.
type ServiceKey struct {
	Service   string
	ServiceID string
	Currency  string
}

// DailyServiceKey identifies one day of one service's cost in the trailing
// window.
type DailyServiceKey struct {
	Date      civil.Date
	Service   string
	ServiceID string
	Currency  string
}

// DailyPoint is the cost of one complete day in the trailing window, per
// currency.
type DailyPoint struct {
	Date  civil.Date
	Costs map[string]*apd.Decimal
}

// Snapshot is the fully-computed metric set of one successful refresh. A
// snapshot is never mutated after construction; refreshes replace it
// wholesale through the Cache.
type Snapshot struct {
	// TotalByCurrency is the month-to-date cost per currency.
	TotalByCurrency map[string]*apd.Decimal

	// ServiceCosts is the month-to-date cost per service and currency.
	// Summed per currency it reconciles exactly with TotalByCurrency.
	ServiceCosts map[ServiceKey]*apd.Decimal

	// Daily is the trailing window of complete days, ascending, densely
	// filled: every window day is present even when it carried no cost.
	Daily []DailyPoint

	// DailyByService breaks the window days down per service. Sparse: only
	// day/service pairs that carried cost are present.
	DailyByService map[DailyServiceKey]*apd.Decimal

	// PrevMonthByCurrency is the prior calendar month's total per currency.
	PrevMonthByCurrency map[string]*apd.Decimal

	ComputedAt time.Time
}

// Empty returns a zero-valued snapshot, served until the first successful
// refresh so scrape handling always has something to render.
func Empty() *Snapshot {
	return &Snapshot{
		TotalByCurrency:     map[string]*apd.Decimal{},
		ServiceCosts:        map[ServiceKey]*apd.Decimal{},
		DailyByService:      map[DailyServiceKey]*apd.Decimal{},
		PrevMonthByCurrency: map[string]*apd.Decimal{},
	}
}

// Currencies returns the total currencies in sorted order, for deterministic
// rendering.
func (s *Snapshot) Currencies() []string {
	return sortedKeys(s.TotalByCurrency)
}

// PrevMonthCurrencies returns the previous-month currencies in sorted order.
func (s *Snapshot) PrevMonthCurrencies() []string {
	return sortedKeys(s.PrevMonthByCurrency)
}

// Services returns the service buckets sorted by service name, then
// currency.
func (s *Snapshot) Services() []ServiceKey {
	keys := make([]ServiceKey, 0, len(s.ServiceCosts))
	for k := range s.ServiceCosts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Service != keys[j].Service {
			return keys[i].Service < keys[j].Service
		}
		if keys[i].ServiceID != keys[j].ServiceID {
			return keys[i].ServiceID < keys[j].ServiceID
		}
		return keys[i].Currency < keys[j].Currency
	})
	return keys
}

// DailyServices returns the per-service daily buckets sorted by date, then
// service name, id and currency.
func (s *Snapshot) DailyServices() []DailyServiceKey {
	keys := make([]DailyServiceKey, 0, len(s.DailyByService))
	for k := range s.DailyByService {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date.Before(keys[j].Date)
		}
		if keys[i].Service != keys[j].Service {
			return keys[i].Service < keys[j].Service
		}
		if keys[i].ServiceID != keys[j].ServiceID {
			return keys[i].ServiceID < keys[j].ServiceID
		}
		return keys[i].Currency < keys[j].Currency
	})
	return keys
}

func sortedKeys(m map[string]*apd.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Health is the exporter's refresh state, owned by the refresh scheduler and
// read by the metrics rendering path.
type Health struct {
	// Up is true when the most recent refresh attempt succeeded.
	Up bool

	// LastError describes the most recent attempt's failure, empty after a
	// success.
	LastError string

	LastSuccessAt time.Time
	LastAttemptAt time.Time
	LastDuration  time.Duration

	Refreshes uint64
	Failures  uint64
}
