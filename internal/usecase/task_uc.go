package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/domain/ports/repository"
	"taskstream/internal/infra/logging"
	"taskstream/internal/infra/metrics"
	"taskstream/internal/stream"
)

// Compile-time check
var _ TaskUseCase = (*taskUC)(nil)

type TaskUseCase interface {
	Submit(ctx context.Context, req SubmitRequest) (*model.TaskRecord, error)
	Attach(ctx context.Context, jobID, requesterID string, after int64, emit func(stream.Frame) error) (stream.State, error)
	Status(ctx context.Context, jobID, requesterID string) (*model.TaskRecord, error)
	ListActive(ctx context.Context, ownerID string) ([]*model.TaskRecord, error)
}

type SubmitRequest struct {
	OwnerID        string
	ConversationID string
	Model          string
	Prompt         string
	Instructions   string
}

type taskUC struct {
	records         repository.TaskRecordRepository
	upstream        adapter.UpstreamJobs
	reconciler      *StatusReconciler
	defaultModel    string
	checkpointEvery int
	log             *zerolog.Logger
}

func NewTaskUseCase(records repository.TaskRecordRepository, upstream adapter.UpstreamJobs, reconciler *StatusReconciler, defaultModel string, checkpointEvery int, logger *zerolog.Logger) *taskUC {
	if checkpointEvery <= 0 {
		checkpointEvery = 20
	}
	return &taskUC{
		records:         records,
		upstream:        upstream,
		reconciler:      reconciler,
		defaultModel:    defaultModel,
		checkpointEvery: checkpointEvery,
		log:             logger,
	}
}

// providerNamer is implemented by upstreams that route per model.
type providerNamer interface {
	ProviderFor(model string) string
}

func (t *taskUC) Submit(ctx context.Context, req SubmitRequest) (*model.TaskRecord, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, domain.ErrInvalidArgument
	}
	if req.Model == "" {
		req.Model = t.defaultModel
	}
	jobID, err := t.upstream.Submit(ctx, adapter.JobRequest{Model: req.Model, Prompt: req.Prompt, Instructions: req.Instructions})
	if err != nil {
		return nil, err
	}

	rec := model.NewTaskRecord(jobID, ulid.Make().String(), req.OwnerID)
	rec.ConversationID = req.ConversationID
	rec.Model = req.Model
	rec.Provider = t.upstream.Name()
	if p, ok := t.upstream.(providerNamer); ok {
		if name := p.ProviderFor(req.Model); name != "" {
			rec.Provider = name
		}
	}
	if err := t.records.Put(ctx, rec); err != nil {
		return nil, err
	}
	metrics.IncTaskTransition("submit", string(rec.Status))
	logging.With(logging.WithJobID(logging.WithOwnerID(ctx, req.OwnerID), jobID), t.log).
		Info().Str("request_id", rec.RequestID).Str("model", rec.Model).Msg("task submitted")
	return rec, nil
}

func (t *taskUC) Status(ctx context.Context, jobID, requesterID string) (*model.TaskRecord, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	rec, err := t.records.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := authorize(rec, requesterID); err != nil {
		return nil, err
	}
	return t.reconciler.refresh(ctx, rec)
}

func (t *taskUC) ListActive(ctx context.Context, ownerID string) ([]*model.TaskRecord, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthenticated
	}
	return t.records.ListActive(ctx, ownerID)
}

// Attach is the primary stream: it reads the upstream's live events after
// cursor, forwards each frame through emit and checkpoints progress so that a
// later Resume can pick up where the client left off.
//
// A transport failure is reported to the client as an inline error frame and
// leaves the record as it was; it is not returned as an error.
func (t *taskUC) Attach(ctx context.Context, jobID, requesterID string, after int64, emit func(stream.Frame) error) (stream.State, error) {
	streamer, ok := t.upstream.(adapter.UpstreamStreamer)
	if !ok {
		return stream.State{}, domain.ErrStreamNotSupported
	}
	rec, err := t.records.Get(ctx, jobID)
	if err != nil {
		return stream.State{}, err
	}
	if err := authorize(rec, requesterID); err != nil {
		return stream.State{}, err
	}
	if after < 0 || after > rec.Cursor {
		after = rec.Cursor
	}

	body, err := streamer.OpenStream(ctx, jobID, after)
	if err != nil {
		return stream.State{}, err
	}
	defer body.Close()

	log := logging.With(logging.WithJobID(ctx, jobID), t.log)
	done := metrics.StreamOpened("attach")
	defer done()

	// Checkpoints are only meaningful when the accumulated content lines up
	// with the stored output, i.e. the stream starts at the stored cursor.
	anchored := after == rec.Cursor
	seed := stream.State{Cursor: after}
	if anchored {
		seed = stream.SeedFromOutput(rec.PartialOutput, rec.Cursor)
	}
	acc := stream.NewAccumulator(stream.WithSeed(seed))
	a := &attachment{uc: t, jobID: jobID, log: log, acc: acc, anchored: anchored, lastStatus: rec.Status}

	reader := stream.NewReader(body)
	for !acc.Done() {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.checkpoint(context.WithoutCancel(ctx))
			if ctx.Err() != nil {
				log.Debug().Msg("attach: client went away")
				return acc.State(), nil
			}
			log.Warn().Err(err).Msg("attach: upstream transport failed")
			ev := stream.ErrorEvent{Type: "transport", Message: "upstream stream interrupted; resume to continue"}
			_ = emit(stream.Frame{Events: []stream.Event{ev}})
			return acc.Apply(ev), nil
		}

		frame := stream.ClassifyFrame(record)
		if len(frame.Events) == 0 {
			continue
		}
		if err := emit(frame); err != nil {
			// The client is gone; keep what we have for the resume.
			a.checkpoint(context.WithoutCancel(ctx))
			return acc.State(), nil
		}
		for _, ev := range frame.Events {
			metrics.IncStreamEvent("attach", stream.Kind(ev))
		}
		a.apply(ctx, frame)
	}

	st := acc.State()
	switch {
	case st.Status.IsTerminal():
	case st.Err != nil:
		// The upstream reported a problem in-band; let it tell us the outcome.
		if _, err := t.reconciler.Refresh(ctx, jobID); err != nil {
			log.Warn().Err(err).Msg("attach: reconcile after stream error failed")
		}
	case !reader.Terminated():
		// The body ended without its terminal marker: a truncated transport.
		a.checkpoint(ctx)
		log.Warn().Msg("attach: upstream stream ended early")
		ev := stream.ErrorEvent{Type: "transport", Message: "upstream stream interrupted; resume to continue"}
		_ = emit(stream.Frame{Events: []stream.Event{ev}})
		return acc.Apply(ev), nil
	default:
		a.checkpoint(ctx)
		if _, err := t.reconciler.Refresh(ctx, jobID); err != nil {
			log.Warn().Err(err).Msg("attach: reconcile after stream end failed")
		}
	}
	return st, nil
}

type attachment struct {
	uc         *taskUC
	jobID      string
	log        *zerolog.Logger
	acc        *stream.Accumulator
	anchored   bool
	lastStatus model.TaskStatus
	sinceCheck int
}

func (a *attachment) apply(ctx context.Context, frame stream.Frame) {
	st := a.acc.ApplyFrame(frame)
	for _, ev := range frame.Events {
		js, ok := ev.(stream.JobStatus)
		if !ok || js.Status == a.lastStatus {
			continue
		}
		upd := model.StatusUpdate{Status: js.Status}
		if js.Status.IsTerminal() {
			upd.Error = js.Message
			if a.anchored {
				out := st.Content
				upd.Output = &out
			}
		}
		rec, err := a.uc.records.UpdateStatus(ctx, a.jobID, upd)
		if err != nil {
			a.log.Warn().Err(err).Str("status", string(js.Status)).Msg("attach: status write failed")
			continue
		}
		if rec.Status != a.lastStatus {
			metrics.IncTaskTransition("stream", string(rec.Status))
			if rec.Status.IsTerminal() {
				a.uc.reconciler.observeFinal(rec)
			}
		}
		a.lastStatus = rec.Status
	}

	if !frame.HasSeq && !frame.CarriesOutput() {
		return
	}
	a.sinceCheck++
	if a.sinceCheck >= a.uc.checkpointEvery {
		a.checkpoint(ctx)
	}
}

func (a *attachment) checkpoint(ctx context.Context) {
	if !a.anchored || a.sinceCheck == 0 || a.lastStatus.IsTerminal() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st := a.acc.State()
	if err := a.uc.records.Checkpoint(ctx, a.jobID, st.Cursor, st.Content); err != nil {
		metrics.IncCheckpoint("error")
		a.log.Warn().Err(err).Int64("cursor", st.Cursor).Msg("attach: checkpoint failed")
		return
	}
	metrics.IncCheckpoint("ok")
	a.sinceCheck = 0
}
