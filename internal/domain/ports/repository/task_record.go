package repository

import (
	"context"

	"taskstream/internal/domain/model"
)

// TaskRecordRepository is the Background Task Record Store.
//
// Implementations must make UpdateStatus a compare-and-set on status: a stored
// terminal status is never overwritten and a status never moves backward.
// Cursor and partial output are last-write-wins, guarded so that neither
// shrinks while the record is active.
type TaskRecordRepository interface {
	// Put inserts a record. ErrAlreadyExists is returned for a known job id.
	Put(ctx context.Context, rec *model.TaskRecord) error
	// Get returns ErrNotFound for unknown jobs.
	Get(ctx context.Context, jobID string) (*model.TaskRecord, error)
	// UpdateStatus applies upd if the transition is allowed and returns the
	// record as stored afterwards.
	UpdateStatus(ctx context.Context, jobID string, upd model.StatusUpdate) (*model.TaskRecord, error)
	// Checkpoint records the last durably observed delta of an active record.
	Checkpoint(ctx context.Context, jobID string, cursor int64, output string) error
	// ListActive returns the non-terminal records of ownerID, oldest first.
	ListActive(ctx context.Context, ownerID string) ([]*model.TaskRecord, error)
	// ListAllActive returns every non-terminal record, up to limit.
	ListAllActive(ctx context.Context, limit int) ([]*model.TaskRecord, error)
}
