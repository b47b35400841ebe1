package aggregator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/streamstats/engine/internal/sessions"
)

// rotator is the subset of *sessions.Manager the Aggregator depends on.
type rotator interface {
	RotateMinute() sessions.RotatedBucket
}

// MetricsSink receives per-tick observability signals.
type MetricsSink interface {
	ObserveAggregationDuration(seconds float64)
	IncStoreError(kind string)
}

type noopSink struct{}

func (noopSink) ObserveAggregationDuration(float64) {}
func (noopSink) IncStoreError(string)                {}

// Aggregator fires on a wall-clock-aligned timer, rotates the Sessions
// Manager's current minute bucket, and persists the resulting rows.
type Aggregator struct {
	manager          rotator
	store            Store
	logger           *zap.Logger
	intervalSeconds  int
	retryAttempts    int
	retryBaseSeconds int
	metrics          MetricsSink
	now              func() time.Time
	onFlush          func(MinuteRows)
}

type Option func(*Aggregator)

func WithMetrics(sink MetricsSink) Option { return func(a *Aggregator) { a.metrics = sink } }
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// WithOnFlush registers a callback fired after each tick's rows have
// been built, whether or not the store writes succeeded. Used to push
// a live-dashboard event without coupling this package to liveview.
func WithOnFlush(fn func(MinuteRows)) Option { return func(a *Aggregator) { a.onFlush = fn } }

// New creates an Aggregator. intervalSeconds is the aggregation cadence
// (default 60); retryAttempts/retryBaseSeconds configure the per-table
// store-write backoff (default 3 attempts, 1 s base, doubling).
func New(manager rotator, store Store, logger *zap.Logger, intervalSeconds, retryAttempts, retryBaseSeconds int, opts ...Option) *Aggregator {
	a := &Aggregator{
		manager:          manager,
		store:            store,
		logger:           logger,
		intervalSeconds:  intervalSeconds,
		retryAttempts:    retryAttempts,
		retryBaseSeconds: retryBaseSeconds,
		metrics:          noopSink{},
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run blocks until ctx is cancelled, firing one tick per wall-clock
// minute boundary. If the process stalls past a boundary, it catches up
// by firing once per missed boundary in order (spec.md §4.3), each
// rotate producing its own (possibly near-empty) bucket.
func (a *Aggregator) Run(ctx context.Context) {
	interval := time.Duration(a.intervalSeconds) * time.Second
	next := a.nextBoundary(interval)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			for !next.After(a.now()) {
				a.tick(ctx, next)
				next = next.Add(interval)
			}
			// re-derive from wall-clock rather than the previous fire
			// time, so the timer never accumulates drift.
			timer.Reset(time.Until(next))
		}
	}
}

func (a *Aggregator) nextBoundary(interval time.Duration) time.Time {
	return a.now().Truncate(interval).Add(interval)
}

// FlushNow rotates and persists the current bucket immediately, outside
// the regular timer loop. Used on graceful shutdown so the last partial
// minute is not silently dropped.
func (a *Aggregator) FlushNow(ctx context.Context, minute time.Time) {
	a.tick(ctx, minute)
}

func (a *Aggregator) tick(ctx context.Context, minute time.Time) {
	start := a.now()
	rotated := a.manager.RotateMinute()
	if rotated.DroppedDeltas > 0 {
		a.logger.Warn("delta buffer overflow",
			zap.Int("dropped", rotated.DroppedDeltas), zap.Time("minute", minute))
	}

	rows := BuildRows(minute, rotated)
	a.persist(ctx, rows)
	if a.onFlush != nil {
		a.onFlush(rows)
	}

	a.metrics.ObserveAggregationDuration(a.now().Sub(start).Seconds())
}

func (a *Aggregator) persist(ctx context.Context, rows MinuteRows) {
	a.persistOne(ctx, "stats_global", func(ctx context.Context) error {
		return a.store.UpsertGlobal(ctx, rows.Global)
	})
	a.persistOne(ctx, "stats_by_server", func(ctx context.Context) error {
		return a.store.UpsertServer(ctx, rows.ByServer)
	})
	a.persistOne(ctx, "stats_by_channel", func(ctx context.Context) error {
		return a.store.UpsertChannel(ctx, rows.ByChannel)
	})
	a.persistOne(ctx, "stats_by_country", func(ctx context.Context) error {
		return a.store.UpsertCountry(ctx, rows.ByCountry)
	})
	a.persistOne(ctx, "stats_by_protocol", func(ctx context.Context) error {
		return a.store.UpsertProtocol(ctx, rows.ByProtocol)
	})
	a.persistOne(ctx, "stats_by_user_agent", func(ctx context.Context) error {
		return a.store.UpsertUserAgentClass(ctx, rows.ByUserAgentClass)
	})
}

// persistOne retries a single dimension table write with exponential
// backoff. A permanent failure (all attempts exhausted) logs and drops
// that table's write for this minute; the minute is not retried later
// since the source deltas are already gone (spec.md §4.3, §7).
func (a *Aggregator) persistOne(ctx context.Context, table string, write func(context.Context) error) {
	backoff := time.Duration(a.retryBaseSeconds) * time.Second
	var err error
	for attempt := 1; attempt <= a.retryAttempts; attempt++ {
		if err = write(ctx); err == nil {
			return
		}
		a.metrics.IncStoreError("store_transient")
		a.logger.Warn("dimension write failed, retrying",
			zap.String("table", table), zap.Int("attempt", attempt), zap.Error(err))

		if attempt == a.retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	a.metrics.IncStoreError("store_permanent")
	a.logger.Error("dimension write permanently failed, minute dropped",
		zap.String("table", table), zap.Error(err))
}
