package refresh

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/billingops/gcp-billing-exporter/internal/clock"
	"github.com/billingops/gcp-billing-exporter/internal/logger"
	"github.com/billingops/gcp-billing-exporter/internal/snapshot"
	"github.com/billingops/gcp-billing-exporter/internal/transform"
	"github.com/billingops/gcp-billing-exporter/internal/warehouse"
)

// Options configures a Refresher.
type Options struct {
	// Interval between refresh attempts.
	Interval time.Duration

	// AttemptTimeout bounds a single refresh attempt including retries.
	AttemptTimeout time.Duration

	// Location is the report time zone for period boundaries.
	Location *time.Location

	// WindowDays is the trailing daily series length.
	WindowDays int

	// Clock defaults to real time when nil.
	Clock clock.Clock
}

// Refresher periodically fetches billing rows, transforms them and publishes
// the result to the cache. It is the cache's single writer: a failed attempt
// updates health only and the previous snapshot keeps serving.
type Refresher struct {
	source warehouse.Source
	cache  *snapshot.Cache
	logger *logger.Logger
	opts   Options

	started   atomic.Bool
	inFlight  atomic.Bool
	refreshes atomic.Uint64
	failures  atomic.Uint64
}

// New creates a Refresher publishing to cache.
func New(source warehouse.Source, cache *snapshot.Cache, log *logger.Logger, opts Options) *Refresher {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Refresher{
		source: source,
		cache:  cache,
		logger: log,
		opts:   opts,
	}
}

// Start launches the background refresh loop: one immediate refresh, then
// one per interval until ctx is canceled. Calling Start more than once is a
// no-op.
func (r *Refresher) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("Background refresh already started, ignoring")
		return
	}

	go func() {
		r.logger.Info("Starting background refresh",
			"interval", r.opts.Interval.String(),
			"source", r.source.Name())

		r.RunOnce(ctx)

		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Background refresh stopped")
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce performs a single refresh attempt. Concurrent calls coalesce: when
// an attempt is already in flight the call returns immediately.
func (r *Refresher) RunOnce(ctx context.Context) error {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.logger.Debug("Refresh already in flight, skipping")
		return nil
	}
	defer r.inFlight.Store(false)

	now := r.opts.Clock.Now()
	period := warehouse.NewPeriod(now, r.opts.Location, r.opts.WindowDays)

	attemptCtx := ctx
	if r.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.opts.AttemptTimeout)
		defer cancel()
	}

	started := time.Now()
	rows, err := r.source.Fetch(attemptCtx, period)
	if err != nil {
		r.recordFailure(now, time.Since(started), err)
		return err
	}

	snap, err := transform.Transform(rows, period, now)
	if err != nil {
		r.recordFailure(now, time.Since(started), err)
		return err
	}

	duration := time.Since(started)
	health := snapshot.Health{
		Up:            true,
		LastSuccessAt: now,
		LastAttemptAt: now,
		LastDuration:  duration,
		Refreshes:     r.refreshes.Add(1),
		Failures:      r.failures.Load(),
	}
	r.cache.Update(snap, health)

	r.logger.Info("Refresh complete",
		"rows", len(rows),
		"currencies", len(snap.TotalByCurrency),
		"services", len(snap.ServiceCosts),
		"duration", duration.String())
	return nil
}

// recordFailure updates health while leaving the served snapshot untouched.
func (r *Refresher) recordFailure(now time.Time, duration time.Duration, err error) {
	_, health := r.cache.Get()
	health.Up = false
	health.LastError = err.Error()
	health.LastAttemptAt = now
	health.LastDuration = duration
	health.Failures = r.failures.Add(1)
	health.Refreshes = r.refreshes.Load()
	r.cache.SetHealth(health)

	if warehouse.IsPermanent(err) {
		r.logger.Error("Refresh failed, keeping previous data", "error", err)
	} else {
		r.logger.Warn("Refresh failed, keeping previous data", "error", err)
	}
}
