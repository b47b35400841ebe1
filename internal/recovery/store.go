// Package recovery implements durability for the live-session table:
// periodic snapshotting to active_sessions and startup rehydration.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamstats/engine/internal/classifier"
	"github.com/streamstats/engine/internal/sessions"
)

// Store is the active_sessions persistence contract.
type Store interface {
	UpsertSessions(ctx context.Context, sessions []sessions.Session) error
	DeleteSessionsNotIn(ctx context.Context, liveIDs []string) error
	LoadSessions(ctx context.Context) ([]sessions.Session, error)
}

// PgStore is the PostgreSQL-backed Store implementation.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const upsertSessionSQL = `
INSERT INTO active_sessions (id, server, channel, country, protocol, user_agent, user_agent_class, user_id, ip, opened_at, last_seen_at, bytes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
	server = EXCLUDED.server,
	channel = EXCLUDED.channel,
	country = EXCLUDED.country,
	protocol = EXCLUDED.protocol,
	user_agent = EXCLUDED.user_agent,
	user_agent_class = EXCLUDED.user_agent_class,
	user_id = EXCLUDED.user_id,
	ip = EXCLUDED.ip,
	opened_at = EXCLUDED.opened_at,
	last_seen_at = EXCLUDED.last_seen_at,
	bytes = EXCLUDED.bytes`

// UpsertSessions writes every live session as one batched round trip.
func (s *PgStore) UpsertSessions(ctx context.Context, live []sessions.Session) error {
	if len(live) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sess := range live {
		batch.Queue(upsertSessionSQL, sess.ID, sess.Server, sess.Channel, sess.Country, sess.Protocol,
			sess.UserAgentRaw, string(sess.UserAgentClass), sess.UserID, sess.ClientIP,
			sess.OpenedAt, sess.LastSeenAt, sess.Bytes)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range live {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert active_sessions: %w", err)
		}
	}
	return nil
}

// DeleteSessionsNotIn removes every active_sessions row whose id is not
// in liveIDs — the second phase of the two-phase snapshot (spec.md §4.4).
func (s *PgStore) DeleteSessionsNotIn(ctx context.Context, liveIDs []string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM active_sessions WHERE NOT (id = ANY($1))`, liveIDs)
	if err != nil {
		return fmt.Errorf("delete stale active_sessions: %w", err)
	}
	return nil
}

// LoadSessions reads every active_sessions row, for startup recovery.
func (s *PgStore) LoadSessions(ctx context.Context) ([]sessions.Session, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, server, channel, country, protocol, user_agent, user_agent_class, user_id, ip, opened_at, last_seen_at, bytes
FROM active_sessions`)
	if err != nil {
		return nil, fmt.Errorf("query active_sessions: %w", err)
	}
	defer rows.Close()

	var out []sessions.Session
	for rows.Next() {
		var sess sessions.Session
		var uaClass string
		var openedAt, lastSeenAt time.Time
		if err := rows.Scan(&sess.ID, &sess.Server, &sess.Channel, &sess.Country, &sess.Protocol,
			&sess.UserAgentRaw, &uaClass, &sess.UserID, &sess.ClientIP, &openedAt, &lastSeenAt, &sess.Bytes); err != nil {
			return nil, fmt.Errorf("scan active_sessions row: %w", err)
		}
		sess.UserAgentClass = classifier.Class(uaClass)
		sess.OpenedAt = openedAt
		sess.LastSeenAt = lastSeenAt
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active_sessions: %w", err)
	}
	return out, nil
}
