package recovery

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/streamstats/engine/internal/sessions"
)

type fakeStore struct {
	rows map[string]sessions.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]sessions.Session)}
}

func (s *fakeStore) UpsertSessions(ctx context.Context, live []sessions.Session) error {
	for _, sess := range live {
		s.rows[sess.ID] = sess
	}
	return nil
}

func (s *fakeStore) DeleteSessionsNotIn(ctx context.Context, liveIDs []string) error {
	keep := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		keep[id] = struct{}{}
	}
	for id := range s.rows {
		if _, ok := keep[id]; !ok {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *fakeStore) LoadSessions(ctx context.Context) ([]sessions.Session, error) {
	out := make([]sessions.Session, 0, len(s.rows))
	for _, sess := range s.rows {
		out = append(out, sess)
	}
	return out, nil
}

func openEvent(id, server, channel, country, proto, userID, ua string, at time.Time) sessions.Event {
	return sessions.Event{
		Time: at, Kind: "play_started", ID: id, Server: server, Channel: channel,
		Country: country, Protocol: proto, UserID: userID, UserAgent: ua, OpenedAtMs: at.UnixMilli(),
	}
}

// TestInvariantSnapshotRestartRestoreSnapshotRoundTrips covers invariant
// 4: snapshot, restart, restore, snapshot again yields a byte-identical
// (modulo last_seen_at) live table.
func TestInvariantSnapshotRestartRestoreSnapshotRoundTrips(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	logger := zap.NewNop()

	m1 := sessions.NewManager(0)
	m1.Ingest(openEvent("a", "s1", "c1", "AU", "hls", "u1", "Lavf", t0))
	m1.Ingest(openEvent("b", "s2", "c2", "US", "hls", "u2", "Lavf", t0))

	snap := NewSnapshotter(m1, store, logger, 30)
	snap.SnapshotOnce(context.Background())
	beforeRestart := make(map[string]sessions.Session, len(store.rows))
	for id, s := range store.rows {
		beforeRestart[id] = s
	}

	// "restart": fresh manager, restore from the store, snapshot again.
	m2 := sessions.NewManager(0)
	if err := Restore(context.Background(), store, m2, 0, t0, logger); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	snap2 := NewSnapshotter(m2, store, logger, 30)
	snap2.SnapshotOnce(context.Background())

	if len(store.rows) != len(beforeRestart) {
		t.Fatalf("row count changed across restart: %d vs %d", len(store.rows), len(beforeRestart))
	}
	for id, want := range beforeRestart {
		got, ok := store.rows[id]
		if !ok {
			t.Fatalf("session %q missing after restart round trip", id)
		}
		got.LastSeenAt = want.LastSeenAt // excluded from comparison
		if got != want {
			t.Errorf("session %q changed across restart: got %+v, want %+v", id, got, want)
		}
	}
}

// TestSnapshotDeletesStaleRows covers the two-phase delete behavior.
func TestSnapshotDeletesStaleRows(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	logger := zap.NewNop()
	m := sessions.NewManager(0)

	m.Ingest(openEvent("a", "s1", "c1", "AU", "hls", "u1", "Lavf", t0))
	m.Ingest(openEvent("b", "s1", "c1", "AU", "hls", "u2", "Lavf", t0))
	snap := NewSnapshotter(m, store, logger, 30)
	snap.SnapshotOnce(context.Background())
	if len(store.rows) != 2 {
		t.Fatalf("rows after first snapshot = %d, want 2", len(store.rows))
	}

	m.Ingest(sessions.Event{Kind: "play_closed", ID: "a", ClosedAtMs: t0.Add(time.Second).UnixMilli(), Bytes: 10})
	snap.SnapshotOnce(context.Background())
	if _, ok := store.rows["a"]; ok {
		t.Errorf("closed session %q still present in store after snapshot", "a")
	}
	if len(store.rows) != 1 {
		t.Errorf("rows after close+snapshot = %d, want 1", len(store.rows))
	}
}

// TestScenarioS5CrashRecovery mirrors spec scenario S5: three open
// sessions survive a snapshot, restart, and restore.
func TestScenarioS5CrashRecovery(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	logger := zap.NewNop()

	m1 := sessions.NewManager(0)
	m1.Ingest(openEvent("a", "s1", "c1", "AU", "hls", "u1", "Lavf", t0))
	m1.Ingest(openEvent("b", "s1", "c1", "AU", "hls", "u2", "Lavf", t0))
	m1.Ingest(openEvent("c", "s1", "c1", "AU", "hls", "u3", "Lavf", t0))
	NewSnapshotter(m1, store, logger, 30).SnapshotOnce(context.Background())

	m2 := sessions.NewManager(0)
	if err := Restore(context.Background(), store, m2, 0, t0, logger); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := m2.Total(); got != 3 {
		t.Fatalf("Total() after restore = %d, want 3", got)
	}

	rotated := m2.RotateMinute()
	if peak := rotated.Bucket.Row(sessions.DimGlobal, "global").PeakConcurrent; peak < 3 {
		t.Errorf("peak_concurrent after restore = %d, want >= 3", peak)
	}
}

// TestRestoreDiscardsStaleSessions covers the stale-session horizon.
func TestRestoreDiscardsStaleSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.rows["old"] = sessions.Session{ID: "old", Server: "s1", Channel: "c1", OpenedAt: now.Add(-2 * time.Hour), LastSeenAt: now.Add(-2 * time.Hour)}
	store.rows["fresh"] = sessions.Session{ID: "fresh", Server: "s1", Channel: "c1", OpenedAt: now.Add(-1 * time.Minute), LastSeenAt: now.Add(-1 * time.Minute)}

	m := sessions.NewManager(0)
	if err := Restore(context.Background(), store, m, time.Hour, now, zap.NewNop()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := m.Total(); got != 1 {
		t.Fatalf("Total() = %d, want 1 (stale session discarded)", got)
	}
}
