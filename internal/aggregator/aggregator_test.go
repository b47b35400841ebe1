package aggregator

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/streamstats/engine/internal/sessions"
)

// fakeStore records the last value written for each key, so a test can
// assert that replaying the same rows twice leaves the stored values
// unchanged (invariant 6: upserts are idempotent).
type fakeStore struct {
	global     DimensionRow
	byServer   map[string]DimensionRow
	writeCount int
	failUntil  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byServer: make(map[string]DimensionRow)}
}

func (s *fakeStore) UpsertGlobal(ctx context.Context, row DimensionRow) error {
	s.writeCount++
	if s.writeCount <= s.failUntil {
		return context.DeadlineExceeded
	}
	s.global = row
	return nil
}
func (s *fakeStore) UpsertServer(ctx context.Context, rows map[string]DimensionRow) error {
	for k, v := range rows {
		s.byServer[k] = v
	}
	return nil
}
func (s *fakeStore) UpsertChannel(context.Context, map[string]DimensionRow) error        { return nil }
func (s *fakeStore) UpsertCountry(context.Context, map[string]DimensionRow) error        { return nil }
func (s *fakeStore) UpsertProtocol(context.Context, map[string]DimensionRow) error       { return nil }
func (s *fakeStore) UpsertUserAgentClass(context.Context, map[string]DimensionRow) error { return nil }

// TestInvariantUpsertsAreIdempotent covers invariant 6.
func TestInvariantUpsertsAreIdempotent(t *testing.T) {
	minute := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	row := DimensionRow{Minute: minute, SessionsStarted: 3, SessionsClosed: 1, TotalBytes: 600, BandwidthBps: 10, UniqueUsers: 2, PeakConcurrent: 3}
	rows := MinuteRows{Minute: minute, Global: row, ByServer: map[string]DimensionRow{}, ByChannel: map[string]DimensionRow{}, ByCountry: map[string]DimensionRow{}, ByProtocol: map[string]DimensionRow{}, ByUserAgentClass: map[string]DimensionRow{}}

	store := newFakeStore()
	logger := zap.NewNop()
	agg := New(nil, store, logger, 60, 3, 1)

	agg.persist(context.Background(), rows)
	first := store.global
	agg.persist(context.Background(), rows)
	second := store.global

	if first != second {
		t.Errorf("replaying the same rows changed the stored value: %+v vs %+v", first, second)
	}
	if second != row {
		t.Errorf("stored value = %+v, want %+v", second, row)
	}
}

// TestPersistRetriesThenGivesUpPermanently covers the §4.3/§7 retry
// contract: transient failures retry with backoff, permanent failure
// logs and drops without blocking the other tables.
func TestPersistRetriesThenGivesUpPermanently(t *testing.T) {
	minute := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rows := MinuteRows{
		Minute: minute, Global: DimensionRow{Minute: minute, SessionsStarted: 1},
		ByServer: map[string]DimensionRow{}, ByChannel: map[string]DimensionRow{},
		ByCountry: map[string]DimensionRow{}, ByProtocol: map[string]DimensionRow{},
		ByUserAgentClass: map[string]DimensionRow{},
	}
	store := newFakeStore()
	store.failUntil = 10 // always fails within the attempt budget
	agg := New(nil, store, zap.NewNop(), 60, 2, 0)

	agg.persist(context.Background(), rows)

	if store.global != (DimensionRow{}) {
		t.Errorf("global row written despite permanent failure: %+v", store.global)
	}
	if store.writeCount != 2 {
		t.Errorf("writeCount = %d, want 2 (retryAttempts)", store.writeCount)
	}
}

// TestRunFiresOnEachBoundary runs the timer loop on the real clock with a
// 1s interval and checks that it keeps firing on successive boundaries.
func TestRunFiresOnEachBoundary(t *testing.T) {
	m := sessions.NewManager(0)
	store := newFakeStore()
	agg := New(m, store, zap.NewNop(), 1, 1, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 3500*time.Millisecond)
	defer cancel()
	agg.Run(ctx)

	if store.writeCount < 2 {
		t.Errorf("writeCount = %d, want at least 2 ticks over 3.5s at 1s interval", store.writeCount)
	}
}
