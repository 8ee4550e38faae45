package snapshot

import (
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_EmptyBeforeFirstRefresh(t *testing.T) {
	c := NewCache()

	snap, health := c.Get()
	require.NotNil(t, snap)
	assert.Empty(t, snap.TotalByCurrency)
	assert.Empty(t, snap.ServiceCosts)
	assert.Empty(t, snap.Daily)
	assert.True(t, snap.ComputedAt.IsZero())
	assert.False(t, health.Up)
	assert.Empty(t, health.LastError)
}

func TestCache_SetReplacesSnapshotKeepsHealth(t *testing.T) {
	c := NewCache()
	c.SetHealth(Health{Up: true, Refreshes: 3})

	snap := Empty()
	snap.ComputedAt = time.Date(2026, time.January, 15, 9, 0, 0, 0, time.UTC)
	c.Set(snap)

	got, health := c.Get()
	assert.Same(t, snap, got)
	assert.True(t, health.Up)
	assert.Equal(t, uint64(3), health.Refreshes)
}

func TestCache_UpdateReplacesBoth(t *testing.T) {
	c := NewCache()
	snap := Empty()
	snap.ComputedAt = time.Date(2026, time.January, 15, 9, 0, 0, 0, time.UTC)

	c.Update(snap, Health{Up: true, Refreshes: 1})

	got, health := c.Get()
	assert.Same(t, snap, got)
	assert.True(t, health.Up)
	assert.Equal(t, uint64(1), health.Refreshes)
}

func TestCache_SetHealthKeepsSnapshot(t *testing.T) {
	c := NewCache()
	snap := Empty()
	snap.ComputedAt = time.Date(2026, time.January, 15, 9, 0, 0, 0, time.UTC)
	c.Set(snap)

	c.SetHealth(Health{Up: false, LastError: "query timeout", Failures: 1})

	got, health := c.Get()
	assert.Same(t, snap, got, "failed refresh must not touch the snapshot")
	assert.False(t, health.Up)
	assert.Equal(t, "query timeout", health.LastError)
}

// TestCache_NoTornReads swaps snapshots whose fields all encode the same
// sequence number while many readers verify internal consistency. A reader
// observing fields from two different snapshots fails the test.
func TestCache_NoTornReads(t *testing.T) {
	c := NewCache()
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	mkSnap := func(seq int64) *Snapshot {
		s := Empty()
		s.TotalByCurrency["USD"] = apd.New(seq, 0)
		s.ServiceCosts[ServiceKey{Service: "Compute Engine", Currency: "USD"}] = apd.New(seq, 0)
		s.PrevMonthByCurrency["USD"] = apd.New(seq, 0)
		s.ComputedAt = base.Add(time.Duration(seq) * time.Second)
		return s
	}
	c.Set(mkSnap(0))

	const (
		writes  = 2000
		readers = 8
	)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				snap, _ := c.Get()
				seq := snap.TotalByCurrency["USD"]
				svc := snap.ServiceCosts[ServiceKey{Service: "Compute Engine", Currency: "USD"}]
				prev := snap.PrevMonthByCurrency["USD"]

				if seq.Cmp(svc) != 0 || seq.Cmp(prev) != 0 {
					t.Errorf("torn read: total=%s service=%s prev=%s", seq, svc, prev)
					return
				}
				want, err := seq.Int64()
				if err != nil {
					t.Errorf("unexpected sequence value %s: %v", seq, err)
					return
				}
				if got := int64(snap.ComputedAt.Sub(base) / time.Second); got != want {
					t.Errorf("torn read: computed_at seq %d, cost seq %d", got, want)
					return
				}
			}
		}()
	}

	for i := int64(1); i <= writes; i++ {
		c.Set(mkSnap(i))
	}
	close(stop)
	wg.Wait()

	snap, _ := c.Get()
	last, err := snap.TotalByCurrency["USD"].Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(writes), last)
}

func TestSnapshot_SortedAccessors(t *testing.T) {
	s := Empty()
	s.TotalByCurrency["USD"] = apd.New(1, 0)
	s.TotalByCurrency["EUR"] = apd.New(2, 0)
	s.ServiceCosts[ServiceKey{Service: "Cloud Storage", Currency: "USD"}] = apd.New(1, 0)
	s.ServiceCosts[ServiceKey{Service: "BigQuery", Currency: "USD"}] = apd.New(1, 0)
	s.ServiceCosts[ServiceKey{Service: "BigQuery", Currency: "EUR"}] = apd.New(1, 0)
	s.PrevMonthByCurrency["INR"] = apd.New(3, 0)

	day1 := civil.Date{Year: 2026, Month: 1, Day: 1}
	day2 := civil.Date{Year: 2026, Month: 1, Day: 2}
	s.DailyByService[DailyServiceKey{Date: day2, Service: "BigQuery", Currency: "USD"}] = apd.New(1, 0)
	s.DailyByService[DailyServiceKey{Date: day1, Service: "Cloud Storage", Currency: "USD"}] = apd.New(1, 0)
	s.DailyByService[DailyServiceKey{Date: day1, Service: "BigQuery", Currency: "USD"}] = apd.New(1, 0)

	assert.Equal(t, []string{"EUR", "USD"}, s.Currencies())
	assert.Equal(t, []string{"INR"}, s.PrevMonthCurrencies())
	assert.Equal(t, []ServiceKey{
		{Service: "BigQuery", Currency: "EUR"},
		{Service: "BigQuery", Currency: "USD"},
		{Service: "Cloud Storage", Currency: "USD"},
	}, s.Services())
	assert.Equal(t, []DailyServiceKey{
		{Date: day1, Service: "BigQuery", Currency: "USD"},
		{Date: day1, Service: "Cloud Storage", Currency: "USD"},
		{Date: day2, Service: "BigQuery", Currency: "USD"},
	}, s.DailyServices())
}
