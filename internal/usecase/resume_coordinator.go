package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/repository"
	"taskstream/internal/infra/logging"
	"taskstream/internal/infra/metrics"
	"taskstream/internal/stream"
)

type ResumeConfig struct {
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	// RateLimit caps resumes per requester per RateWindow; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
}

// ResumeStream is a synthetic event stream for a job whose primary
// attachment is gone. Events is closed when the stream ends.
type ResumeStream struct {
	JobID string
	// Cursor is the effective cursor the stream resumes from.
	Cursor int64
	// Offset is the byte length of output the client holds; the first content
	// event continues at that offset of the job's output.
	Offset int64
	// Seed is the stored output up to Offset. It is shorter than Offset when
	// the client holds more than was ever checkpointed.
	Seed   string
	Events <-chan stream.Event
}

// ResumeOption adjusts a single Resume call.
type ResumeOption func(*resumeOptions)

type resumeOptions struct {
	held *int64
}

// WithHeldOutput states how many bytes of output the client already holds.
// Without it a client at cursor 0 is assumed to hold nothing and any other
// client the stored checkpoint, which may have grown since the client read it.
func WithHeldOutput(n int64) ResumeOption {
	return func(o *resumeOptions) { o.held = &n }
}

type ResumeCoordinator struct {
	records    repository.TaskRecordRepository
	reconciler *StatusReconciler
	limiter    Limiter
	cfg        ResumeConfig
	log        *zerolog.Logger
}

// NewResumeCoordinator builds a coordinator. limiter may be nil.
func NewResumeCoordinator(records repository.TaskRecordRepository, reconciler *StatusReconciler, limiter Limiter, cfg ResumeConfig, logger *zerolog.Logger) *ResumeCoordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPollDuration <= 0 {
		cfg.MaxPollDuration = 15 * time.Minute
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &ResumeCoordinator{records: records, reconciler: reconciler, limiter: limiter, cfg: cfg, log: logger}
}

// Resume checks ownership, then returns a stream that polls the job until it
// is terminal. The stream ends early when ctx is cancelled or polling runs
// past MaxPollDuration; in the latter case the record stays resumable.
func (c *ResumeCoordinator) Resume(ctx context.Context, jobID, requesterID string, cursor *int64, opts ...ResumeOption) (*ResumeStream, error) {
	defer logging.TraceDuration(c.log, "ResumeCoordinator.Resume")()
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	rec, err := c.records.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := authorize(rec, requesterID); err != nil {
		return nil, err
	}
	if err := c.allow(ctx, requesterID, jobID); err != nil {
		return nil, err
	}

	var o resumeOptions
	for _, opt := range opts {
		opt(&o)
	}

	effective := rec.Cursor
	if cursor != nil {
		effective = clampCursor(*cursor, rec.Cursor)
	}
	held := heldOutput(o.held, effective, rec.PartialOutput)
	seed := rec.PartialOutput
	if held < int64(len(seed)) {
		seed = seed[:held]
	}

	events := make(chan stream.Event, 4)
	rs := &ResumeStream{JobID: jobID, Cursor: effective, Offset: held, Seed: seed, Events: events}
	go c.poll(ctx, rec, effective, held, events)
	return rs, nil
}

// heldOutput is the byte offset the stream continues from.
func heldOutput(declared *int64, cursor int64, stored string) int64 {
	switch {
	case declared != nil && *declared < 0:
		return 0
	case declared != nil:
		return *declared
	case cursor == 0:
		return 0
	default:
		return int64(len(stored))
	}
}

func clampCursor(c, stored int64) int64 {
	if c < 0 {
		return 0
	}
	if c > stored {
		return stored
	}
	return c
}

func (c *ResumeCoordinator) allow(ctx context.Context, requesterID, jobID string) error {
	if c.limiter == nil || c.cfg.RateLimit <= 0 {
		return nil
	}
	key := "resume:" + requesterID
	if requesterID == "" {
		key = "resume:job:" + jobID
	}
	ok, err := c.limiter.Allow(ctx, key, c.cfg.RateLimit, c.cfg.RateWindow)
	switch {
	case err != nil:
		// Limiter outages must not block resumes.
		c.log.Warn().Err(err).Msg("resume: rate limiter unavailable")
		metrics.IncRateLimit("resume", "error")
		return nil
	case !ok:
		metrics.IncRateLimit("resume", "denied")
		return domain.ErrRateLimited
	}
	metrics.IncRateLimit("resume", "allowed")
	return nil
}

// poll is the resume state machine. It never recurses; each iteration
// reconciles, emits what changed and sleeps on a timer.
func (c *ResumeCoordinator) poll(ctx context.Context, rec *model.TaskRecord, cursor, sent int64, out chan<- stream.Event) {
	defer close(out)
	log := logging.With(logging.WithJobID(ctx, rec.JobID), c.log)

	emit := func(ev stream.Event) bool {
		select {
		case out <- ev:
			metrics.IncStreamEvent("resume", stream.Kind(ev))
			return true
		case <-ctx.Done():
			return false
		}
	}

	deadline := time.Now().Add(c.cfg.MaxPollDuration)
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()
	first := true

	for {
		if !first || !rec.Status.IsTerminal() {
			next, err := c.reconciler.refresh(ctx, rec)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("resume: status refresh failed")
				emit(stream.ErrorEvent{Type: "status_unavailable", Message: "task status is temporarily unavailable"})
				return
			}
			rec = next
		}
		first = false
		metrics.IncResumePoll(string(rec.Status))
		if rec.Cursor > cursor {
			cursor = rec.Cursor
		}

		// Remaining output goes out before the status so that folding clients,
		// which stop at a terminal status, still receive it.
		if delta, ok := remaining(sent, rec.PartialOutput); ok {
			if delta != "" && !emit(stream.ContentDelta{Text: delta}) {
				return
			}
			sent = int64(len(rec.PartialOutput))
		}
		if !emit(stream.JobStatus{JobID: rec.JobID, Status: rec.Status, Message: rec.Error, Cursor: cursor}) {
			return
		}
		if rec.Status.IsTerminal() {
			return
		}
		if time.Now().After(deadline) {
			log.Info().Dur("max_poll", c.cfg.MaxPollDuration).Msg("resume: poll limit reached")
			emit(stream.ErrorEvent{
				Type:    "poll_timeout",
				Message: fmt.Sprintf("job still %s after %s; resume again later", rec.Status, c.cfg.MaxPollDuration),
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(c.cfg.PollInterval)
		}
	}
}

// remaining returns output past the first sent bytes. A cut that lands
// inside a rune drops the partial rune.
func remaining(sent int64, output string) (string, bool) {
	if int64(len(output)) <= sent {
		return "", false
	}
	return strings.ToValidUTF8(output[sent:], ""), true
}
