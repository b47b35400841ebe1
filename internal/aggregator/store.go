package aggregator

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists one minute's aggregated rows. Implementations must make
// each Upsert* call idempotent: replaying the same rows twice yields the
// same stored values (spec.md §4.3, invariant 6).
type Store interface {
	UpsertGlobal(ctx context.Context, row DimensionRow) error
	UpsertServer(ctx context.Context, rows map[string]DimensionRow) error
	UpsertChannel(ctx context.Context, rows map[string]DimensionRow) error
	UpsertCountry(ctx context.Context, rows map[string]DimensionRow) error
	UpsertProtocol(ctx context.Context, rows map[string]DimensionRow) error
	UpsertUserAgentClass(ctx context.Context, rows map[string]DimensionRow) error
}

// PgStore is the PostgreSQL-backed Store implementation.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const globalUpsertSQL = `
INSERT INTO stats_global (minute, sessions_started, sessions_closed, total_bytes, bandwidth_bps, watch_time_seconds, unique_users, peak_concurrent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (minute) DO UPDATE SET
	sessions_started = EXCLUDED.sessions_started,
	sessions_closed = EXCLUDED.sessions_closed,
	total_bytes = EXCLUDED.total_bytes,
	bandwidth_bps = EXCLUDED.bandwidth_bps,
	watch_time_seconds = EXCLUDED.watch_time_seconds,
	unique_users = EXCLUDED.unique_users,
	peak_concurrent = EXCLUDED.peak_concurrent`

func (s *PgStore) UpsertGlobal(ctx context.Context, row DimensionRow) error {
	_, err := s.pool.Exec(ctx, globalUpsertSQL,
		row.Minute, row.SessionsStarted, row.SessionsClosed, row.TotalBytes,
		row.BandwidthBps, row.WatchTimeSeconds, row.UniqueUsers, row.PeakConcurrent)
	if err != nil {
		return fmt.Errorf("upsert stats_global: %w", err)
	}
	return nil
}

func dimensionUpsertSQL(table, column string) string {
	return fmt.Sprintf(`
INSERT INTO %s (minute, %s, sessions_started, sessions_closed, total_bytes, bandwidth_bps, watch_time_seconds, unique_users, peak_concurrent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (minute, %s) DO UPDATE SET
	sessions_started = EXCLUDED.sessions_started,
	sessions_closed = EXCLUDED.sessions_closed,
	total_bytes = EXCLUDED.total_bytes,
	bandwidth_bps = EXCLUDED.bandwidth_bps,
	watch_time_seconds = EXCLUDED.watch_time_seconds,
	unique_users = EXCLUDED.unique_users,
	peak_concurrent = EXCLUDED.peak_concurrent`, table, column, column)
}

// upsertBreakdown writes every key in rows as one batched round trip, per
// spec.md §4.3's "one batched upsert per dimension table".
func (s *PgStore) upsertBreakdown(ctx context.Context, table, column string, rows map[string]DimensionRow) error {
	if len(rows) == 0 {
		return nil
	}
	sql := dimensionUpsertSQL(table, column)
	batch := &pgx.Batch{}
	for key, row := range rows {
		batch.Queue(sql, row.Minute, key, row.SessionsStarted, row.SessionsClosed,
			row.TotalBytes, row.BandwidthBps, row.WatchTimeSeconds, row.UniqueUsers, row.PeakConcurrent)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	return nil
}

func (s *PgStore) UpsertServer(ctx context.Context, rows map[string]DimensionRow) error {
	return s.upsertBreakdown(ctx, "stats_by_server", "server", rows)
}

func (s *PgStore) UpsertChannel(ctx context.Context, rows map[string]DimensionRow) error {
	return s.upsertBreakdown(ctx, "stats_by_channel", "channel", rows)
}

func (s *PgStore) UpsertCountry(ctx context.Context, rows map[string]DimensionRow) error {
	return s.upsertBreakdown(ctx, "stats_by_country", "country", rows)
}

func (s *PgStore) UpsertProtocol(ctx context.Context, rows map[string]DimensionRow) error {
	return s.upsertBreakdown(ctx, "stats_by_protocol", "protocol", rows)
}

func (s *PgStore) UpsertUserAgentClass(ctx context.Context, rows map[string]DimensionRow) error {
	return s.upsertBreakdown(ctx, "stats_by_user_agent", "user_agent_class", rows)
}
