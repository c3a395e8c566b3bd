package security

import (
	"context"
	"fmt"

	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/repository"
)

var _ repository.TaskRecordRepository = (*EncryptedRepo)(nil)

// EncryptedRepo keeps partial output encrypted at rest. It wraps any store;
// callers see plaintext.
//
// Stores guard output growth by comparing stored lengths. Seal keeps sealed
// length strictly increasing in plaintext length, so that guard orders sealed
// values exactly as it would the plaintext.
type EncryptedRepo struct {
	inner repository.TaskRecordRepository
	enc   *EncryptionService
}

func NewEncryptedRepo(inner repository.TaskRecordRepository, enc *EncryptionService) *EncryptedRepo {
	return &EncryptedRepo{inner: inner, enc: enc}
}

func (r *EncryptedRepo) Put(ctx context.Context, rec *model.TaskRecord) error {
	if rec == nil {
		return r.inner.Put(ctx, rec)
	}
	sealed := rec.Clone()
	var err error
	if sealed.PartialOutput, err = r.enc.Seal(rec.PartialOutput); err != nil {
		return fmt.Errorf("seal output: %w", err)
	}
	return r.inner.Put(ctx, sealed)
}

func (r *EncryptedRepo) Get(ctx context.Context, jobID string) (*model.TaskRecord, error) {
	rec, err := r.inner.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return r.open(rec)
}

func (r *EncryptedRepo) UpdateStatus(ctx context.Context, jobID string, upd model.StatusUpdate) (*model.TaskRecord, error) {
	if upd.Output != nil {
		sealed, err := r.enc.Seal(*upd.Output)
		if err != nil {
			return nil, fmt.Errorf("seal output: %w", err)
		}
		upd.Output = &sealed
	}
	rec, err := r.inner.UpdateStatus(ctx, jobID, upd)
	if err != nil {
		return nil, err
	}
	return r.open(rec)
}

func (r *EncryptedRepo) Checkpoint(ctx context.Context, jobID string, cursor int64, output string) error {
	sealed, err := r.enc.Seal(output)
	if err != nil {
		return fmt.Errorf("seal output: %w", err)
	}
	return r.inner.Checkpoint(ctx, jobID, cursor, sealed)
}

func (r *EncryptedRepo) ListActive(ctx context.Context, ownerID string) ([]*model.TaskRecord, error) {
	recs, err := r.inner.ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return r.openAll(recs)
}

func (r *EncryptedRepo) ListAllActive(ctx context.Context, limit int) ([]*model.TaskRecord, error) {
	recs, err := r.inner.ListAllActive(ctx, limit)
	if err != nil {
		return nil, err
	}
	return r.openAll(recs)
}

func (r *EncryptedRepo) open(rec *model.TaskRecord) (*model.TaskRecord, error) {
	pt, err := r.enc.Open(rec.PartialOutput)
	if err != nil {
		return nil, fmt.Errorf("open output of %s: %w", rec.JobID, err)
	}
	rec.PartialOutput = pt
	return rec, nil
}

func (r *EncryptedRepo) openAll(recs []*model.TaskRecord) ([]*model.TaskRecord, error) {
	for _, rec := range recs {
		if _, err := r.open(rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}
