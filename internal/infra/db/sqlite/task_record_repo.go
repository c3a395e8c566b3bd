// Package sqlite is a single-node durable TaskRecordRepository backed by
// SQLite in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/repository"
)

var _ repository.TaskRecordRepository = (*TaskRecordRepo)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS task_records (
    job_id          TEXT PRIMARY KEY,
    request_id      TEXT NOT NULL,
    owner_id        TEXT NOT NULL DEFAULT '',
    conversation_id TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    resume_cursor   INTEGER NOT NULL DEFAULT 0,
    partial_output  TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    provider        TEXT NOT NULL DEFAULT '',
    model           TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS task_records_owner_idx ON task_records (owner_id, status);
`

const columns = `job_id, request_id, owner_id, conversation_id, status, resume_cursor,
       partial_output, error, provider, model, created_at, updated_at`

type TaskRecordRepo struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*TaskRecordRepo, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps the read-modify-write in UpdateStatus serialized.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL;`, `PRAGMA busy_timeout=5000;`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &TaskRecordRepo{db: db}, nil
}

func (r *TaskRecordRepo) Close() error { return r.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	var status string
	err := row.Scan(
		&rec.JobID, &rec.RequestID, &rec.OwnerID, &rec.ConversationID, &status, &rec.Cursor,
		&rec.PartialOutput, &rec.Error, &rec.Provider, &rec.Model, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	rec.Status = model.TaskStatus(status)
	return &rec, nil
}

func (r *TaskRecordRepo) Put(ctx context.Context, rec *model.TaskRecord) error {
	if rec == nil || rec.JobID == "" {
		return domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO task_records (`+columns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.RequestID, rec.OwnerID, rec.ConversationID, string(rec.Status), rec.Cursor,
		rec.PartialOutput, rec.Error, rec.Provider, rec.Model, rec.CreatedAt, rec.UpdatedAt)
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *TaskRecordRepo) Get(ctx context.Context, jobID string) (*model.TaskRecord, error) {
	return scanRecord(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM task_records WHERE job_id = ?;`, jobID))
}

func (r *TaskRecordRepo) UpdateStatus(ctx context.Context, jobID string, upd model.StatusUpdate) (*model.TaskRecord, error) {
	if !upd.Status.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+columns+` FROM task_records WHERE job_id = ?;`, jobID))
	if err != nil {
		return nil, err
	}
	if rec.ApplyStatus(upd, time.Now().UTC()) {
		if _, err := tx.ExecContext(ctx, `
UPDATE task_records SET status = ?, partial_output = ?, error = ?, updated_at = ? WHERE job_id = ?;`,
			string(rec.Status), rec.PartialOutput, rec.Error, rec.UpdatedAt, rec.JobID); err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update status: %w", err)
	}
	return rec, nil
}

func (r *TaskRecordRepo) Checkpoint(ctx context.Context, jobID string, cursor int64, output string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE task_records
   SET resume_cursor = ?1,
       partial_output = CASE WHEN length(CAST(?2 AS BLOB)) >= length(CAST(partial_output AS BLOB)) THEN ?2 ELSE partial_output END,
       updated_at = ?3
 WHERE job_id = ?4 AND resume_cursor <= ?1 AND status IN ('queued', 'in_progress');`,
		cursor, output, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

func (r *TaskRecordRepo) ListActive(ctx context.Context, ownerID string) ([]*model.TaskRecord, error) {
	if ownerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return r.list(ctx, `
SELECT `+columns+` FROM task_records
 WHERE owner_id = ? AND status IN ('queued', 'in_progress')
 ORDER BY created_at;`, ownerID)
}

func (r *TaskRecordRepo) ListAllActive(ctx context.Context, limit int) ([]*model.TaskRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.list(ctx, `
SELECT `+columns+` FROM task_records
 WHERE status IN ('queued', 'in_progress')
 ORDER BY updated_at
 LIMIT ?;`, limit)
}

func (r *TaskRecordRepo) list(ctx context.Context, q string, args ...any) ([]*model.TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.TaskRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
