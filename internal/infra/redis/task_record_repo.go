package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/repository"
)

var _ repository.TaskRecordRepository = (*TaskRecordRepo)(nil)

const (
	activeAllKey   = "task_active"
	maxTxRetries   = 8
	defaultListMax = 500
)

// TaskRecordRepo stores each record as JSON under task:{id}. Active records
// are indexed in a per-owner sorted set (by creation) and a global one (by
// last update). Mutations are optimistic WATCH/MULTI transactions so the
// status rules in model.TaskRecord are applied in exactly one place.
type TaskRecordRepo struct {
	cli *redis.Client
	ttl time.Duration
}

// NewTaskRecordRepo keeps terminal records for ttl; active records never expire.
func NewTaskRecordRepo(c *Client, ttl time.Duration) *TaskRecordRepo {
	return &TaskRecordRepo{cli: c.cli, ttl: ttl}
}

func recordKey(jobID string) string      { return "task:" + jobID }
func ownerActiveKey(owner string) string { return "task_active:owner:" + owner }

func (r *TaskRecordRepo) expiry(rec *model.TaskRecord) time.Duration {
	if rec.Status.IsTerminal() {
		return r.ttl
	}
	return 0
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
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := r.cli.SetNX(ctx, recordKey(rec.JobID), data, r.expiry(rec)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAlreadyExists
	}
	if rec.Status.IsTerminal() {
		return nil
	}
	_, err = r.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		r.index(ctx, p, rec)
		return nil
	})
	return err
}

func (r *TaskRecordRepo) index(ctx context.Context, p redis.Pipeliner, rec *model.TaskRecord) {
	if rec.Status.IsTerminal() {
		p.ZRem(ctx, activeAllKey, rec.JobID)
		if rec.HasOwner() {
			p.ZRem(ctx, ownerActiveKey(rec.OwnerID), rec.JobID)
		}
		return
	}
	p.ZAdd(ctx, activeAllKey, &redis.Z{Score: float64(rec.UpdatedAt.UnixNano()), Member: rec.JobID})
	if rec.HasOwner() {
		p.ZAdd(ctx, ownerActiveKey(rec.OwnerID), &redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.JobID})
	}
}

func decode(data []byte) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return &rec, nil
}

func (r *TaskRecordRepo) Get(ctx context.Context, jobID string) (*model.TaskRecord, error) {
	data, err := r.cli.Get(ctx, recordKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// mutate runs fn against the stored record inside a WATCH transaction and
// writes the result back when fn reports a change.
func (r *TaskRecordRepo) mutate(ctx context.Context, jobID string, fn func(*model.TaskRecord) bool) (*model.TaskRecord, error) {
	key := recordKey(jobID)
	var out *model.TaskRecord
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		rec, err := decode(data)
		if err != nil {
			return err
		}
		out = rec
		if !fn(rec) {
			return nil
		}
		next, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next, r.expiry(rec))
			r.index(ctx, p, rec)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := r.cli.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("update task %s: %w", jobID, redis.TxFailedErr)
}

func (r *TaskRecordRepo) UpdateStatus(ctx context.Context, jobID string, upd model.StatusUpdate) (*model.TaskRecord, error) {
	if !upd.Status.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	return r.mutate(ctx, jobID, func(rec *model.TaskRecord) bool {
		return rec.ApplyStatus(upd, time.Now().UTC())
	})
}

func (r *TaskRecordRepo) Checkpoint(ctx context.Context, jobID string, cursor int64, output string) error {
	_, err := r.mutate(ctx, jobID, func(rec *model.TaskRecord) bool {
		return rec.ApplyCheckpoint(cursor, output, time.Now().UTC())
	})
	return err
}

func (r *TaskRecordRepo) ListActive(ctx context.Context, ownerID string) ([]*model.TaskRecord, error) {
	if ownerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	ids, err := r.cli.ZRange(ctx, ownerActiveKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	recs, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

func (r *TaskRecordRepo) ListAllActive(ctx context.Context, limit int) ([]*model.TaskRecord, error) {
	if limit <= 0 {
		limit = defaultListMax
	}
	ids, err := r.cli.ZRange(ctx, activeAllKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	return r.load(ctx, ids)
}

// load fetches ids in order, skipping records that expired or went terminal
// after the index was read.
func (r *TaskRecordRepo) load(ctx context.Context, ids []string) ([]*model.TaskRecord, error) {
	out := make([]*model.TaskRecord, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	vals, err := r.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		if !rec.Status.IsTerminal() {
			out = append(out, rec)
		}
	}
	return out, nil
}
