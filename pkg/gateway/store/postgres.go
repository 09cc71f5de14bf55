package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/voxprep/voxprep/pkg/core/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the schema migrations for the session store.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is the production Store on a pgx connection pool. Each write is
// retried a few times with backoff before being given up on; the session's
// in-memory state stays authoritative either way.
type Postgres struct {
	db         execer
	logger     *slog.Logger
	maxRetries uint64
	backoff    time.Duration
}

// NewPostgres creates a Postgres store over an existing pool.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return newPostgres(pool, logger)
}

func newPostgres(db execer, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{
		db:         db,
		logger:     logger,
		maxRetries: 3,
		backoff:    200 * time.Millisecond,
	}
}

const appendTurnSQL = `
INSERT INTO interview_sessions (user_id, session_id, started_at, interactions, updated_at)
VALUES ($1, $2, $3, jsonb_build_array($4::jsonb), now())
ON CONFLICT (user_id, session_id) DO UPDATE SET
    interactions = interview_sessions.interactions || excluded.interactions,
    updated_at   = now()`

// AppendTurn merges one turn into the session document's interactions array.
func (p *Postgres) AppendTurn(ctx context.Context, userID, sessionID string, startedAt time.Time, turn types.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	return p.exec(ctx, "append turn", appendTurnSQL, userID, sessionID, startedAt, payload)
}

const finishSessionSQL = `
INSERT INTO interview_sessions (user_id, session_id, started_at, interactions, finished_at, score, feedback, final_reason, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7::jsonb, $8, now())
ON CONFLICT (user_id, session_id) DO UPDATE SET
    interactions = excluded.interactions,
    finished_at  = excluded.finished_at,
    score        = excluded.score,
    feedback     = excluded.feedback,
    final_reason = excluded.final_reason,
    updated_at   = now()`

// FinishSession merges the final outcome into the session document.
func (p *Postgres) FinishSession(ctx context.Context, userID, sessionID string, rec FinishRecord) error {
	turns := rec.Turns
	if turns == nil {
		turns = []types.Turn{}
	}
	interactions, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal interactions: %w", err)
	}
	feedback, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	return p.exec(ctx, "finish session", finishSessionSQL,
		userID, sessionID, rec.StartedAt, interactions,
		rec.FinishedAt, rec.Report.Score, feedback, string(rec.Reason))
}

func (p *Postgres) exec(ctx context.Context, op, query string, args ...any) error {
	backoff := retry.WithMaxRetries(p.maxRetries, retry.NewExponential(p.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := p.db.Exec(ctx, query, args...); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
