package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL DEFAULT '',
	urls JSONB NOT NULL,
	config JSONB NOT NULL,
	status TEXT NOT NULL,
	requested INTEGER NOT NULL,
	accepted INTEGER NOT NULL,
	chunks_total INTEGER NOT NULL,
	chunks_appended INTEGER NOT NULL,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_job_id ON runs (job_id);
CREATE TABLE IF NOT EXISTS verdicts (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	url TEXT NOT NULL,
	indexed BOOLEAN NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) SaveRun(ctx context.Context, run *storage.Run) error {
	urlsJSON, err := json.Marshal(run.URLs)
	if err != nil {
		return fmt.Errorf("encode urls: %w", err)
	}
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	query := `
	INSERT INTO runs (
		id, job_id, urls, config, status, requested, accepted, chunks_total, chunks_appended, last_error, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		job_id = EXCLUDED.job_id,
		urls = EXCLUDED.urls,
		config = EXCLUDED.config,
		status = EXCLUDED.status,
		requested = EXCLUDED.requested,
		accepted = EXCLUDED.accepted,
		chunks_total = EXCLUDED.chunks_total,
		chunks_appended = EXCLUDED.chunks_appended,
		last_error = EXCLUDED.last_error,
		updated_at = EXCLUDED.updated_at
	`

	_, err = b.pool.Exec(ctx, query,
		run.ID,
		run.JobID,
		urlsJSON,
		cfgJSON,
		string(run.Status),
		run.Requested,
		run.Accepted,
		run.ChunksTotal,
		run.ChunksAppended,
		run.LastError,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, job_id, urls, config, status, requested, accepted, chunks_total, chunks_appended, COALESCE(last_error, ''), created_at, updated_at`

func scanRun(row pgx.Row) (*storage.Run, error) {
	var (
		r        storage.Run
		urlsJSON []byte
		cfgJSON  []byte
		status   string
	)
	err := row.Scan(
		&r.ID, &r.JobID, &urlsJSON, &cfgJSON, &status, &r.Requested, &r.Accepted,
		&r.ChunksTotal, &r.ChunksAppended, &r.LastError, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(urlsJSON, &r.URLs); err != nil {
		return nil, fmt.Errorf("decode urls: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &r.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	r.Status = batch.JobStatus(status)
	return &r, nil
}

func (b *postgresBackend) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	r, err := scanRun(b.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (b *postgresBackend) ListRuns(ctx context.Context, filter storage.Filter) ([]*storage.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.JobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, paramCount)
		args = append(args, filter.JobID)
		paramCount++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, paramCount)
		args = append(args, string(filter.Status))
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*storage.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (b *postgresBackend) SaveVerdicts(ctx context.Context, runID string, verdicts []storage.Verdict) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM verdicts WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear verdicts: %w", err)
	}

	rows := make([][]any, len(verdicts))
	for i, v := range verdicts {
		rows[i] = []any{runID, i, v.URL, v.Indexed, v.Position}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"verdicts"},
		[]string{"run_id", "seq", "url", "indexed", "position"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy verdicts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *postgresBackend) QueryVerdicts(ctx context.Context, filter storage.VerdictFilter) ([]storage.Verdict, error) {
	query := `SELECT url, indexed, position FROM verdicts WHERE run_id = $1`
	args := []any{filter.RunID}
	paramCount := 2

	if filter.Indexed != nil {
		query += fmt.Sprintf(` AND indexed = $%d`, paramCount)
		args = append(args, *filter.Indexed)
		paramCount++
	}
	query += ` ORDER BY seq`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	var out []storage.Verdict
	for rows.Next() {
		var v storage.Verdict
		if err := rows.Scan(&v.URL, &v.Indexed, &v.Position); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	return out, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
