// Package memory holds in-process stores for development, tests and
// single-instance deployments. Nothing here survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/repository"
)

var _ repository.TaskRecordRepository = (*TaskRecordRepo)(nil)

type entry struct {
	mu  sync.Mutex
	rec *model.TaskRecord
}

// TaskRecordRepo keeps one lock per record; the map lock is held only to find
// or insert entries, so updates for different jobs never contend.
type TaskRecordRepo struct {
	mu      sync.RWMutex
	records map[string]*entry
	now     func() time.Time
}

func NewTaskRecordRepo() *TaskRecordRepo {
	return &TaskRecordRepo{records: make(map[string]*entry), now: time.Now}
}

func (r *TaskRecordRepo) lookup(jobID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.records[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func (r *TaskRecordRepo) Put(ctx context.Context, rec *model.TaskRecord) error {
	if rec == nil || rec.JobID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.JobID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := rec.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now().UTC()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	r.records[rec.JobID] = &entry{rec: cp}
	return nil
}

func (r *TaskRecordRepo) Get(ctx context.Context, jobID string) (*model.TaskRecord, error) {
	e, err := r.lookup(jobID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (r *TaskRecordRepo) UpdateStatus(ctx context.Context, jobID string, upd model.StatusUpdate) (*model.TaskRecord, error) {
	if !upd.Status.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	e, err := r.lookup(jobID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.ApplyStatus(upd, r.now().UTC())
	return e.rec.Clone(), nil
}

func (r *TaskRecordRepo) Checkpoint(ctx context.Context, jobID string, cursor int64, output string) error {
	e, err := r.lookup(jobID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.ApplyCheckpoint(cursor, output, r.now().UTC())
	return nil
}

func (r *TaskRecordRepo) ListActive(ctx context.Context, ownerID string) ([]*model.TaskRecord, error) {
	if ownerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return r.collect(func(rec *model.TaskRecord) bool { return rec.OwnerID == ownerID }, 0), nil
}

func (r *TaskRecordRepo) ListAllActive(ctx context.Context, limit int) ([]*model.TaskRecord, error) {
	return r.collect(func(*model.TaskRecord) bool { return true }, limit), nil
}

func (r *TaskRecordRepo) collect(match func(*model.TaskRecord) bool, limit int) []*model.TaskRecord {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.records))
	for _, e := range r.records {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*model.TaskRecord, 0)
	for _, e := range entries {
		e.mu.Lock()
		if !e.rec.Status.IsTerminal() && match(e.rec) {
			out = append(out, e.rec.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
