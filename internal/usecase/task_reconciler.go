package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/domain/ports/repository"
	"taskstream/internal/infra/logging"
	"taskstream/internal/infra/metrics"
	"taskstream/internal/tokens"
)

const (
	msgUpstreamJobMissing = "upstream job not found"
	msgUpstreamFailed     = "upstream reported failure"
)

// StatusReconciler brings a local record in line with the upstream's view of
// the job. The upstream is the source of truth; the store is a cache of it.
type StatusReconciler struct {
	records  repository.TaskRecordRepository
	upstream adapter.UpstreamJobs
	counter  *tokens.Counter
	log      *zerolog.Logger
}

// NewStatusReconciler builds a reconciler. counter may be nil.
func NewStatusReconciler(records repository.TaskRecordRepository, upstream adapter.UpstreamJobs, counter *tokens.Counter, logger *zerolog.Logger) *StatusReconciler {
	return &StatusReconciler{records: records, upstream: upstream, counter: counter, log: logger}
}

// Reconcile returns the job's status after reconciliation. A terminal local
// record is returned without contacting the upstream. If the upstream cannot
// be reached, the last known local status is returned.
func (r *StatusReconciler) Reconcile(ctx context.Context, jobID string) (model.TaskStatus, error) {
	rec, err := r.Refresh(ctx, jobID)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Refresh is Reconcile returning the whole record.
func (r *StatusReconciler) Refresh(ctx context.Context, jobID string) (*model.TaskRecord, error) {
	rec, err := r.records.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return r.refresh(ctx, rec)
}

func (r *StatusReconciler) refresh(ctx context.Context, rec *model.TaskRecord) (*model.TaskRecord, error) {
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	log := logging.With(logging.WithJobID(ctx, rec.JobID), r.log)

	var upd model.StatusUpdate
	snap, err := r.upstream.Retrieve(ctx, rec.JobID)
	switch {
	case errors.Is(err, domain.ErrUnknownUpstreamJob):
		upd = model.StatusUpdate{Status: model.TaskStatusFailed, Error: msgUpstreamJobMissing}
	case err != nil:
		log.Warn().Err(err).Str("status", string(rec.Status)).Msg("reconcile: upstream unavailable, keeping last known status")
		return rec, nil
	default:
		upd = model.StatusUpdate{Status: snap.Status, Output: &snap.Output, Error: snap.Error}
		if snap.Status == model.TaskStatusFailed && upd.Error == "" {
			upd.Error = msgUpstreamFailed
		}
	}

	if !differs(rec, upd) {
		return rec, nil
	}
	updated, err := r.records.UpdateStatus(ctx, rec.JobID, upd)
	if err != nil {
		return nil, err
	}
	if updated.Status != rec.Status {
		metrics.IncTaskTransition("reconcile", string(updated.Status))
		log.Debug().Str("from", string(rec.Status)).Str("to", string(updated.Status)).Msg("reconcile: status advanced")
		if updated.Status.IsTerminal() {
			r.observeFinal(updated)
		}
	}
	return updated, nil
}

// differs reports whether upd would change rec; identical reports skip the write.
func differs(rec *model.TaskRecord, upd model.StatusUpdate) bool {
	if !model.CanTransition(rec.Status, upd.Status) {
		return false
	}
	if upd.Status != rec.Status {
		return true
	}
	return upd.Output != nil && len(*upd.Output) > len(rec.PartialOutput)
}

func (r *StatusReconciler) observeFinal(rec *model.TaskRecord) {
	if r.counter == nil || rec.PartialOutput == "" {
		return
	}
	metrics.AddOutputTokens(rec.Provider, rec.Model, r.counter.Count(rec.Model, rec.PartialOutput))
}
