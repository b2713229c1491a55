package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/replay"
)

// ErrEpisodeNotFound is returned when an episode id matches no row.
var ErrEpisodeNotFound = errors.New("episode not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS episodes (
    id UUID PRIMARY KEY,
    device_serial TEXT NOT NULL,
    goal TEXT NOT NULL,
    outcome TEXT,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS episode_steps (
    episode_id UUID NOT NULL REFERENCES episodes (id) ON DELETE CASCADE,
    step_index INTEGER NOT NULL,
    action JSONB NOT NULL,
    stable BOOLEAN NOT NULL,
    num_elements INTEGER NOT NULL,
    interaction_cache TEXT NOT NULL,
    error TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    PRIMARY KEY (episode_id, step_index)
);`

// StoredStep is a persisted replay step.
type StoredStep struct {
	Index            int
	Action           schemas.Action
	Stable           bool
	NumElements      int
	InteractionCache string
	Error            string
	StartedAt        time.Time
	Duration         time.Duration
}

// Store persists episodes and their steps in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// BeginEpisode inserts a new episode and returns its id.
func (s *Store) BeginEpisode(ctx context.Context, deviceSerial, goal string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO episodes (id, device_serial, goal, started_at) VALUES ($1, $2, $3, $4)`,
		id, deviceSerial, goal, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert episode: %w", err)
	}
	s.log.Debug("Episode started.", zap.String("episode_id", id))
	return id, nil
}

// RecordStep persists one replayed step.
func (s *Store) RecordStep(ctx context.Context, episodeID string, step replay.Step) error {
	action, err := schemas.Serialize(step.Action)
	if err != nil {
		return err
	}
	errText := ""
	if step.Err != nil {
		errText = step.Err.Error()
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO episode_steps (episode_id, step_index, action, stable, num_elements, interaction_cache, error, started_at, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		episodeID, step.Index, []byte(action), step.Stable, step.NumElements,
		step.InteractionCache, errText, step.StartedAt.UTC(), step.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert step %d: %w", step.Index, err)
	}
	return nil
}

// EndEpisode stamps the outcome and end time.
func (s *Store) EndEpisode(ctx context.Context, episodeID, outcome string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE episodes SET outcome = $2, ended_at = $3 WHERE id = $1`,
		episodeID, outcome, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to end episode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEpisodeNotFound, episodeID)
	}
	return nil
}

// Steps returns the steps of an episode in order.
func (s *Store) Steps(ctx context.Context, episodeID string) ([]StoredStep, error) {
	query := `
        SELECT step_index, action, stable, num_elements, interaction_cache, error, started_at, duration_ms
        FROM episode_steps
        WHERE episode_id = $1
        ORDER BY step_index ASC;
    `
	rows, err := s.pool.Query(ctx, query, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []StoredStep
	for rows.Next() {
		var st StoredStep
		var raw []byte
		var durationMS int64
		if err := rows.Scan(&st.Index, &raw, &st.Stable, &st.NumElements, &st.InteractionCache, &st.Error, &st.StartedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		a, err := schemas.ParseAction(raw)
		if err != nil {
			return nil, fmt.Errorf("step %d has an invalid action: %w", st.Index, err)
		}
		st.Action = a
		st.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return steps, nil
}

// Recorder returns a replay.Recorder writing into the given episode.
func (s *Store) Recorder(episodeID string) replay.Recorder {
	return &episodeRecorder{store: s, episodeID: episodeID}
}

type episodeRecorder struct {
	store     *Store
	episodeID string
}

func (r *episodeRecorder) RecordStep(ctx context.Context, step replay.Step) error {
	return r.store.RecordStep(ctx, r.episodeID, step)
}
