package sinks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/corpus-refinery/internal/progress"
)

// Session run statuses persisted in session_runs.status.
const (
	RunRunning = "running"
	RunSuccess = "success"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_runs (
	id          UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_site_stats (
	session_id  UUID NOT NULL,
	site        TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	visits      BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0,
	fetch_2xx   BIGINT NOT NULL DEFAULT 0,
	fetch_3xx   BIGINT NOT NULL DEFAULT 0,
	fetch_4xx   BIGINT NOT NULL DEFAULT 0,
	fetch_5xx   BIGINT NOT NULL DEFAULT 0,
	delivered   BIGINT NOT NULL DEFAULT 0,
	duplicates  BIGINT NOT NULL DEFAULT 0,
	failed      BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, site)
);`

const upsertRun = `
INSERT INTO session_runs (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status
WHERE session_runs.status <> EXCLUDED.status;`

const completeRun = `
UPDATE session_runs
SET finished_at = $1, status = $2
WHERE id = $3;`

const upsertSite = `
INSERT INTO session_site_stats (session_id, site, last_update, visits, bytes_total,
	fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx, delivered, duplicates, failed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (session_id, site) DO UPDATE SET
	last_update = GREATEST(session_site_stats.last_update, EXCLUDED.last_update),
	visits      = session_site_stats.visits + EXCLUDED.visits,
	bytes_total = session_site_stats.bytes_total + EXCLUDED.bytes_total,
	fetch_2xx   = session_site_stats.fetch_2xx + EXCLUDED.fetch_2xx,
	fetch_3xx   = session_site_stats.fetch_3xx + EXCLUDED.fetch_3xx,
	fetch_4xx   = session_site_stats.fetch_4xx + EXCLUDED.fetch_4xx,
	fetch_5xx   = session_site_stats.fetch_5xx + EXCLUDED.fetch_5xx,
	delivered   = session_site_stats.delivered + EXCLUDED.delivered,
	duplicates  = session_site_stats.duplicates + EXCLUDED.duplicates,
	failed      = session_site_stats.failed + EXCLUDED.failed;`

type execPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink persists session runs and per-site counters. Each Consume
// call folds the batch into one upsert per (session, site).
type PostgresSink struct {
	pool execPool
}

// NewPostgresSink connects to dsn and creates the tables if needed.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, errors.New("progress.postgres_dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s := NewPostgresSinkWithPool(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSinkWithPool wraps an existing pool.
func NewPostgresSinkWithPool(pool execPool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// EnsureSchema creates session_runs and session_site_stats.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create progress tables: %w", err)
	}
	return nil
}

type siteKey struct {
	session uuid.UUID
	site    string
}

type siteDelta struct {
	last       time.Time
	visits     int64
	bytes      int64
	byClass    map[progress.StatusClass]int64
	delivered  int64
	duplicates int64
	failed     int64
}

// Consume writes session starts, then site deltas, then session completions.
func (s *PostgresSink) Consume(ctx context.Context, batch []progress.Event) error {
	var starts, dones []progress.Event
	deltas := make(map[siteKey]*siteDelta)
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSessionStart:
			starts = append(starts, evt)
			continue
		case progress.StageSessionDone:
			dones = append(dones, evt)
			continue
		}
		key := siteKey{session: evt.SessionUUID(), site: siteOf(evt.URL)}
		d, ok := deltas[key]
		if !ok {
			d = &siteDelta{byClass: make(map[progress.StatusClass]int64)}
			deltas[key] = d
		}
		if evt.TS.After(d.last) {
			d.last = evt.TS
		}
		switch evt.Stage {
		case progress.StageFetched:
			d.visits++
			d.bytes += evt.Bytes
			d.byClass[evt.StatusClass]++
		case progress.StageDelivered:
			d.delivered++
		case progress.StageDuplicate:
			d.duplicates++
		case progress.StageFailed:
			d.failed++
		}
	}

	for _, evt := range starts {
		if _, err := s.pool.Exec(ctx, upsertRun, evt.SessionUUID(), evt.TS, RunRunning); err != nil {
			return fmt.Errorf("failed to upsert session start: %w", err)
		}
	}
	for _, key := range sortedKeys(deltas) {
		d := deltas[key]
		_, err := s.pool.Exec(ctx, upsertSite,
			key.session,
			key.site,
			d.last,
			d.visits,
			d.bytes,
			d.byClass[progress.Status2xx],
			d.byClass[progress.Status3xx],
			d.byClass[progress.Status4xx],
			d.byClass[progress.Status5xx],
			d.delivered,
			d.duplicates,
			d.failed,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert site stats: %w", err)
		}
	}
	for _, evt := range dones {
		if _, err := s.pool.Exec(ctx, completeRun, evt.TS, RunSuccess, evt.SessionUUID()); err != nil {
			return fmt.Errorf("failed to complete session: %w", err)
		}
	}
	return nil
}

// Close releases the pool. Safe to call more than once.
func (s *PostgresSink) Close(context.Context) error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func sortedKeys(m map[siteKey]*siteDelta) []siteKey {
	keys := make([]siteKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].session != keys[j].session {
			return keys[i].session.String() < keys[j].session.String()
		}
		return keys[i].site < keys[j].site
	})
	return keys
}

// siteOf reduces a document URL to its host. Local files report "local".
func siteOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unknown"
	}
	if u.Scheme == "file" {
		return "local"
	}
	if u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
