package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Schema creates the episodes table used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id           TEXT PRIMARY KEY,
	actor_id     TEXT NOT NULL,
	steps        INTEGER NOT NULL,
	reward       DOUBLE PRECISION NOT NULL,
	survived     BOOLEAN NOT NULL,
	transitions  INTEGER NOT NULL,
	duration_ms  BIGINT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS episodes_actor_ended_idx ON episodes (actor_id, ended_at DESC);`

// PostgresStore implements EpisodeStore backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects with the lib/pq driver and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return NewPostgresStore(db), nil
}

// Close closes the underlying database handle.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) SaveEpisode(ctx context.Context, episode EpisodeSummary) error {
	query := `
		INSERT INTO episodes (id, actor_id, steps, reward, survived, transitions,
							  duration_ms, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := p.db.ExecContext(ctx, query,
		episode.ID, episode.ActorID, episode.Steps, episode.Reward, episode.Survived,
		episode.Transitions, episode.Duration.Milliseconds(), episode.StartedAt, episode.EndedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to save episode: %w", err)
	}

	return nil
}

func (p *PostgresStore) GetEpisode(ctx context.Context, id string) (EpisodeSummary, error) {
	query := `
		SELECT id, actor_id, steps, reward, survived, transitions, duration_ms,
			   started_at, ended_at
		FROM episodes WHERE id = $1`

	episode, err := scanEpisode(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return EpisodeSummary{}, ErrNotFound
	}
	if err != nil {
		return EpisodeSummary{}, fmt.Errorf("failed to get episode: %w", err)
	}
	return episode, nil
}

func (p *PostgresStore) ListEpisodes(ctx context.Context, actorID string, limit int) ([]EpisodeSummary, error) {
	query := `
		SELECT id, actor_id, steps, reward, survived, transitions, duration_ms,
			   started_at, ended_at
		FROM episodes
		WHERE ($1 = '' OR actor_id = $1)
		ORDER BY ended_at DESC, id ASC`
	args := []any{actorID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var out []EpisodeSummary
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		out = append(out, episode)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row scanner) (EpisodeSummary, error) {
	var episode EpisodeSummary
	var durationMS int64
	err := row.Scan(
		&episode.ID, &episode.ActorID, &episode.Steps, &episode.Reward, &episode.Survived,
		&episode.Transitions, &durationMS, &episode.StartedAt, &episode.EndedAt)
	if err != nil {
		return EpisodeSummary{}, err
	}
	episode.Duration = time.Duration(durationMS) * time.Millisecond
	return episode, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
