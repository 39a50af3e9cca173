package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"llm_relay/internal/scoring"
)

// performanceSchema creates the event table when it does not exist yet.
const performanceSchema = `
CREATE TABLE IF NOT EXISTS performance_events (
    id          BIGSERIAL PRIMARY KEY,
    provider    TEXT        NOT NULL,
    success     BOOLEAN     NOT NULL,
    latency_ms  BIGINT      NOT NULL,
    requests    BIGINT      NOT NULL,
    successes   BIGINT      NOT NULL,
    score       DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_performance_events_provider_time
    ON performance_events (provider, recorded_at DESC);
`

// PerformanceEvent is one persisted row of a provider's rolling stats.
type PerformanceEvent struct {
	ID         int64     `db:"id" json:"id"`
	Provider   string    `db:"provider" json:"provider"`
	Success    bool      `db:"success" json:"success"`
	LatencyMS  int64     `db:"latency_ms" json:"latency_ms"`
	Requests   int64     `db:"requests" json:"requests"`
	Successes  int64     `db:"successes" json:"successes"`
	Score      float64   `db:"score" json:"score"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// PerformanceRepository persists scorer events and answers snapshot queries.
// It satisfies the stats pipeline's Store interface.
type PerformanceRepository struct {
	db *DB
}

// NewPerformanceRepository creates a repository on the shared DB.
func NewPerformanceRepository(db *DB) *PerformanceRepository {
	return &PerformanceRepository{db: db}
}

// EnsureSchema creates the performance tables if they are missing.
func (r *PerformanceRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.conn.ExecContext(ctx, performanceSchema); err != nil {
		return fmt.Errorf("failed to ensure performance schema: %w", err)
	}
	return nil
}

// InsertEvents writes a batch of scorer events in one transaction.
func (r *PerformanceRepository) InsertEvents(ctx context.Context, events []scoring.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO performance_events
			(provider, success, latency_ms, requests, successes, score, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, ev := range events {
		if _, err := tx.ExecContext(ctx, query,
			ev.Provider,
			ev.Success,
			ev.Latency.Milliseconds(),
			ev.Requests,
			ev.Successes,
			ev.Score,
			ev.At,
		); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	// Fresh rows invalidate the cached latest snapshots.
	for _, ev := range events {
		r.db.statsCache.Delete(latestKey(ev.Provider))
	}
	return nil
}

// Latest returns the most recent persisted event for the provider. Served
// from the read cache when a fresh copy is available.
func (r *PerformanceRepository) Latest(ctx context.Context, provider string) (*PerformanceEvent, error) {
	if cached, ok := r.db.statsCache.Get(latestKey(provider)); ok {
		ev := cached.(PerformanceEvent)
		return &ev, nil
	}

	var ev PerformanceEvent
	err := r.db.conn.GetContext(ctx, &ev, `
		SELECT id, provider, success, latency_ms, requests, successes, score, recorded_at
		FROM performance_events
		WHERE provider = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoStats, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest event: %w", err)
	}

	r.db.statsCache.Set(latestKey(provider), ev)
	return &ev, nil
}

// History returns the provider's events since the given time, newest first.
func (r *PerformanceRepository) History(ctx context.Context, provider string, since time.Time, limit int) ([]PerformanceEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var events []PerformanceEvent
	err := r.db.conn.SelectContext(ctx, &events, `
		SELECT id, provider, success, latency_ms, requests, successes, score, recorded_at
		FROM performance_events
		WHERE provider = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC, id DESC
		LIMIT $3`, provider, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query event history: %w", err)
	}
	return events, nil
}

func latestKey(provider string) string {
	return "latest:" + provider
}
