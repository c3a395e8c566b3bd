package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/domain/ports/repository"
	"taskstream/internal/infra/logging"
	"taskstream/internal/infra/metrics"
)

// Locker serializes work on a key across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

const (
	cancelLockTTL = 30 * time.Second
	cancelTimeout = 20 * time.Second
)

type CancelCoordinator struct {
	records  repository.TaskRecordRepository
	upstream adapter.UpstreamJobs
	locker   Locker
	flights  singleflight.Group
	log      *zerolog.Logger
}

// NewCancelCoordinator builds a coordinator. locker may be nil, in which
// case only cancels within this process are collapsed.
func NewCancelCoordinator(records repository.TaskRecordRepository, upstream adapter.UpstreamJobs, locker Locker, logger *zerolog.Logger) *CancelCoordinator {
	return &CancelCoordinator{records: records, upstream: upstream, locker: locker, log: logger}
}

// Cancel is idempotent: a terminal job reports its status without contacting
// the upstream, and concurrent cancels of one job share a single upstream call.
func (c *CancelCoordinator) Cancel(ctx context.Context, jobID, requesterID string) (model.TaskStatus, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", domain.ErrInvalidArgument
	}
	rec, err := c.records.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if err := authorize(rec, requesterID); err != nil {
		return "", err
	}
	if rec.Status.IsTerminal() {
		metrics.IncCancel("already_terminal")
		return rec.Status, nil
	}

	// The flight outlives any single caller's disconnect.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	v, err, shared := c.flights.Do(jobID, func() (interface{}, error) {
		return c.forward(fctx, jobID)
	})
	if err != nil {
		metrics.IncCancel("error")
		return "", err
	}
	if shared {
		metrics.IncCancel("shared")
	}
	return v.(model.TaskStatus), nil
}

func (c *CancelCoordinator) forward(ctx context.Context, jobID string) (model.TaskStatus, error) {
	log := logging.With(logging.WithJobID(ctx, jobID), c.log)

	if c.locker != nil {
		key := "lock:cancel:" + jobID
		token, err := c.locker.TryLock(ctx, key, cancelLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			// Another instance is forwarding this cancel; report what we know.
			rec, err := c.records.Get(ctx, jobID)
			if err != nil {
				return "", err
			}
			return rec.Status, nil
		case err != nil:
			log.Warn().Err(err).Msg("cancel: lock unavailable, continuing unlocked")
		default:
			defer func() {
				if err := c.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn().Err(err).Msg("cancel: unlock failed")
				}
			}()
		}
	}

	// Re-read: a concurrent writer may have settled the job meanwhile.
	rec, err := c.records.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if rec.Status.IsTerminal() {
		metrics.IncCancel("already_terminal")
		return rec.Status, nil
	}

	st, err := c.upstream.Cancel(ctx, jobID)
	switch {
	case errors.Is(err, domain.ErrUnknownUpstreamJob):
		st = model.TaskStatusCancelled
	case err != nil:
		log.Error().Err(err).Msg("cancel: upstream cancel failed")
		return "", err
	case !st.Valid():
		st = model.TaskStatusCancelled
	}

	updated, err := c.records.UpdateStatus(ctx, jobID, model.StatusUpdate{Status: st})
	if err != nil {
		return "", err
	}
	if updated.Status != rec.Status {
		metrics.IncTaskTransition("cancel", string(updated.Status))
	}
	metrics.IncCancel("forwarded")
	log.Info().Str("status", string(updated.Status)).Msg("cancel: forwarded")
	return updated.Status, nil
}
