package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/streamstats/engine/internal/sessions"
)

// snapshotSource is the subset of *sessions.Manager the Snapshotter needs.
type snapshotSource interface {
	SnapshotLive() []sessions.Session
}

// Snapshotter periodically writes the live-session table to durable
// storage so a crash loses at most one snapshot interval of state
// (spec.md §4.4).
type Snapshotter struct {
	manager         snapshotSource
	store           Store
	logger          *zap.Logger
	intervalSeconds int
	now             func() time.Time
	onSnapshot      func(live []sessions.Session)
}

func NewSnapshotter(manager snapshotSource, store Store, logger *zap.Logger, intervalSeconds int) *Snapshotter {
	return &Snapshotter{manager: manager, store: store, logger: logger, intervalSeconds: intervalSeconds, now: time.Now}
}

// WithOnSnapshot registers a callback fired with the live-session set
// after every successful snapshot. Used to mirror snapshots to S3
// without coupling this package to pkg/archive.
func (s *Snapshotter) WithOnSnapshot(fn func(live []sessions.Session)) *Snapshotter {
	s.onSnapshot = fn
	return s
}

// Run blocks until ctx is cancelled, snapshotting on a fixed-interval
// ticker (this cadence is not wall-clock aligned, unlike the aggregator).
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SnapshotOnce(ctx)
		}
	}
}

// SnapshotOnce performs one two-phase snapshot: upsert every live
// session, then delete any stored row whose id is no longer live. A
// transient store failure is logged and retried on the next tick; it
// does not halt ingest.
func (s *Snapshotter) SnapshotOnce(ctx context.Context) {
	live := s.manager.SnapshotLive()

	if err := s.store.UpsertSessions(ctx, live); err != nil {
		s.logger.Warn("snapshot upsert failed, will retry next tick", zap.Error(err))
		return
	}

	ids := make([]string, len(live))
	for i, sess := range live {
		ids[i] = sess.ID
	}
	if err := s.store.DeleteSessionsNotIn(ctx, ids); err != nil {
		s.logger.Warn("snapshot delete-stale failed, will retry next tick", zap.Error(err))
		return
	}

	if s.onSnapshot != nil {
		s.onSnapshot(live)
	}
	s.logger.Debug("snapshot complete", zap.Int("live_sessions", len(live)))
}

// Restore reads active_sessions and seeds manager's live table before
// intake is enabled. Rows older than staleHorizon (if positive) are
// discarded instead of rehydrated — the operator's choice, since
// spec.md leaves the default stale-session horizon unset.
func Restore(ctx context.Context, store Store, manager *sessions.Manager, staleHorizon time.Duration, now time.Time, logger *zap.Logger) error {
	rows, err := store.LoadSessions(ctx)
	if err != nil {
		return err
	}

	kept := rows[:0]
	discarded := 0
	for _, sess := range rows {
		if staleHorizon > 0 && now.Sub(sess.OpenedAt) > staleHorizon {
			discarded++
			continue
		}
		kept = append(kept, sess)
	}

	if err := manager.Restore(kept); err != nil {
		return err
	}

	logger.Info("recovery complete", zap.Int("restored", len(kept)), zap.Int("discarded_stale", discarded))
	return nil
}
