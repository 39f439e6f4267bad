package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL DEFAULT '',
	urls TEXT NOT NULL,
	config TEXT NOT NULL,
	status TEXT NOT NULL,
	requested INTEGER NOT NULL,
	accepted INTEGER NOT NULL,
	chunks_total INTEGER NOT NULL,
	chunks_appended INTEGER NOT NULL,
	last_error TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
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

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) SaveRun(ctx context.Context, run *storage.Run) error {
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
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		job_id = excluded.job_id,
		urls = excluded.urls,
		config = excluded.config,
		status = excluded.status,
		requested = excluded.requested,
		accepted = excluded.accepted,
		chunks_total = excluded.chunks_total,
		chunks_appended = excluded.chunks_appended,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`

	_, err = b.db.ExecContext(ctx, query,
		run.ID,
		run.JobID,
		string(urlsJSON),
		string(cfgJSON),
		string(run.Status),
		run.Requested,
		run.Accepted,
		run.ChunksTotal,
		run.ChunksAppended,
		run.LastError,
		run.CreatedAt.UTC(),
		run.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, job_id, urls, config, status, requested, accepted, chunks_total, chunks_appended, last_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*storage.Run, error) {
	var (
		r         storage.Run
		urlsJSON  string
		cfgJSON   string
		status    string
		lastError sql.NullString
	)
	err := s.Scan(
		&r.ID, &r.JobID, &urlsJSON, &cfgJSON, &status, &r.Requested, &r.Accepted,
		&r.ChunksTotal, &r.ChunksAppended, &lastError, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(urlsJSON), &r.URLs); err != nil {
		return nil, fmt.Errorf("decode urls: %w", err)
	}
	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	r.Status = batch.JobStatus(status)
	r.LastError = lastError.String
	return &r, nil
}

func (b *sqliteBackend) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (b *sqliteBackend) ListRuns(ctx context.Context, filter storage.Filter) ([]*storage.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []any{}

	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
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

func (b *sqliteBackend) SaveVerdicts(ctx context.Context, runID string, verdicts []storage.Verdict) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM verdicts WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear verdicts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO verdicts (run_id, seq, url, indexed, position) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, v := range verdicts {
		if _, err := stmt.ExecContext(ctx, runID, i, v.URL, v.Indexed, v.Position); err != nil {
			return fmt.Errorf("insert verdict %q: %w", v.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) QueryVerdicts(ctx context.Context, filter storage.VerdictFilter) ([]storage.Verdict, error) {
	query := `SELECT url, indexed, position FROM verdicts WHERE run_id = ?`
	args := []any{filter.RunID}

	if filter.Indexed != nil {
		query += ` AND indexed = ?`
		args = append(args, *filter.Indexed)
	}
	query += ` ORDER BY seq`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
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

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
