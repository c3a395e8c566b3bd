package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/repository"
)

var _ repository.TaskRecordRepository = (*taskRecordRepo)(nil)

const taskRecordColumns = `job_id, request_id, owner_id, conversation_id, status, resume_cursor,
       partial_output, error, provider, model, created_at, updated_at`

type taskRecordRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewTaskRecordRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *taskRecordRepo {
	return &taskRecordRepo{pool: pool, tm: tm}
}

func scanTaskRecord(row pgx.Row) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	var status string
	err := row.Scan(
		&rec.JobID, &rec.RequestID, &rec.OwnerID, &rec.ConversationID, &status, &rec.Cursor,
		&rec.PartialOutput, &rec.Error, &rec.Provider, &rec.Model, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	rec.Status = model.TaskStatus(status)
	return &rec, nil
}

func (r *taskRecordRepo) Put(ctx context.Context, rec *model.TaskRecord) error {
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
	const q = `
INSERT INTO task_records (job_id, request_id, owner_id, conversation_id, status, resume_cursor,
                          partial_output, error, provider, model, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (job_id) DO NOTHING;`

	tag, err := execSQL(ctx, r.pool, nil, q,
		rec.JobID, rec.RequestID, rec.OwnerID, rec.ConversationID, string(rec.Status), rec.Cursor,
		rec.PartialOutput, rec.Error, rec.Provider, rec.Model, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *taskRecordRepo) Get(ctx context.Context, jobID string) (*model.TaskRecord, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT `+taskRecordColumns+` FROM task_records WHERE job_id = $1;`, jobID)
	if err != nil {
		return nil, err
	}
	return scanTaskRecord(row)
}

// UpdateStatus locks the row, applies the monotonic status rule in Go and
// writes back only when something changed.
func (r *taskRecordRepo) UpdateStatus(ctx context.Context, jobID string, upd model.StatusUpdate) (*model.TaskRecord, error) {
	if !upd.Status.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	var out *model.TaskRecord
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		row, err := pickRow(ctx, r.pool, tx,
			`SELECT `+taskRecordColumns+` FROM task_records WHERE job_id = $1 FOR UPDATE;`, jobID)
		if err != nil {
			return err
		}
		rec, err := scanTaskRecord(row)
		if err != nil {
			return err
		}
		if rec.ApplyStatus(upd, time.Now().UTC()) {
			const q = `
UPDATE task_records
   SET status = $2, partial_output = $3, error = $4, updated_at = $5
 WHERE job_id = $1;`
			if _, err := execSQL(ctx, r.pool, tx, q, rec.JobID, string(rec.Status), rec.PartialOutput, rec.Error, rec.UpdatedAt); err != nil {
				return err
			}
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRecordRepo) Checkpoint(ctx context.Context, jobID string, cursor int64, output string) error {
	const q = `
UPDATE task_records
   SET resume_cursor = $2,
       partial_output = CASE WHEN octet_length($3) >= octet_length(partial_output) THEN $3 ELSE partial_output END,
       updated_at = now()
 WHERE job_id = $1
   AND resume_cursor <= $2
   AND status IN ('queued', 'in_progress');`

	tag, err := execSQL(ctx, r.pool, nil, q, jobID, cursor, output)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Stale or terminal checkpoints are dropped silently; only a missing
		// record is an error.
		if _, err := r.Get(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

func (r *taskRecordRepo) ListActive(ctx context.Context, ownerID string) ([]*model.TaskRecord, error) {
	if ownerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return r.list(ctx, `
SELECT `+taskRecordColumns+`
  FROM task_records
 WHERE owner_id = $1 AND status IN ('queued', 'in_progress')
 ORDER BY created_at;`, ownerID)
}

func (r *taskRecordRepo) ListAllActive(ctx context.Context, limit int) ([]*model.TaskRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.list(ctx, `
SELECT `+taskRecordColumns+`
  FROM task_records
 WHERE status IN ('queued', 'in_progress')
 ORDER BY updated_at
 LIMIT $1;`, limit)
}

func (r *taskRecordRepo) list(ctx context.Context, q string, args ...interface{}) ([]*model.TaskRecord, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.TaskRecord, 0)
	for rows.Next() {
		rec, err := scanTaskRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
