package upstream

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/stream"
)

var (
	_ adapter.UpstreamJobs     = (*Simulated)(nil)
	_ adapter.UpstreamStreamer = (*Simulated)(nil)
)

// FailMarker in a prompt makes the simulated job fail halfway through.
const FailMarker = "[fail]"

// Simulated is an in-process upstream for local development and tests. A job
// sits queued for QueueDelay and then reveals one word every Step.
type Simulated struct {
	QueueDelay time.Duration
	Step       time.Duration

	now  func() time.Time
	mu   sync.Mutex
	jobs map[string]*simJob
}

type simJob struct {
	chunks      []string
	failAt      int // chunk count at which the job fails; 0 never
	started     time.Time
	cancelledAt time.Time
}

func NewSimulated(queueDelay, step time.Duration) *Simulated {
	return &Simulated{QueueDelay: queueDelay, Step: step, now: time.Now, jobs: make(map[string]*simJob)}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Submit(ctx context.Context, req adapter.JobRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer := fmt.Sprintf("Simulated answer from %s to: %s", modelOrDefault(req.Model, "sim-1"), req.Prompt)
	job := &simJob{chunks: splitWords(answer), started: s.now()}
	if strings.Contains(req.Prompt, FailMarker) {
		job.failAt = len(job.chunks)/2 + 1
	}
	id := "sim_" + ulid.MustNew(ulid.Timestamp(job.started), rand.Reader).String()

	s.mu.Lock()
	s.jobs[id] = job
	s.mu.Unlock()
	return id, nil
}

// splitWords keeps separators attached so that chunks concatenate back to s.
func splitWords(s string) []string {
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] == ' ' {
			out = append(out, s[start:i])
			start = i
		}
	}
	return append(out, s[start:])
}

// view computes the job's state at t. Callers hold s.mu.
func (s *Simulated) view(j *simJob, t time.Time) (model.TaskStatus, int, string) {
	if !j.cancelledAt.IsZero() && !t.Before(j.cancelledAt) {
		t = j.cancelledAt
	}
	elapsed := t.Sub(j.started)
	n := 0
	if elapsed >= s.QueueDelay {
		if s.Step <= 0 {
			n = len(j.chunks)
		} else {
			n = int((elapsed-s.QueueDelay)/s.Step) + 1
		}
	}
	if n > len(j.chunks) {
		n = len(j.chunks)
	}
	switch {
	case j.failAt > 0 && n >= j.failAt:
		return model.TaskStatusFailed, j.failAt - 1, "simulated failure"
	case !j.cancelledAt.IsZero():
		return model.TaskStatusCancelled, n, ""
	case elapsed < s.QueueDelay:
		return model.TaskStatusQueued, 0, ""
	case n == len(j.chunks):
		return model.TaskStatusCompleted, n, ""
	default:
		return model.TaskStatusInProgress, n, ""
	}
}

func (s *Simulated) Retrieve(ctx context.Context, jobID string) (adapter.JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return adapter.JobSnapshot{}, domain.ErrUnknownUpstreamJob
	}
	st, n, msg := s.view(j, s.now())
	return adapter.JobSnapshot{ID: jobID, Status: st, Output: strings.Join(j.chunks[:n], ""), Error: msg}, nil
}

func (s *Simulated) Cancel(ctx context.Context, jobID string) (model.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return "", domain.ErrUnknownUpstreamJob
	}
	now := s.now()
	if st, _, _ := s.view(j, now); st.IsTerminal() {
		return st, nil
	}
	j.cancelledAt = now
	return model.TaskStatusCancelled, nil
}

// OpenStream replays chunks after the given cursor as they become visible.
// Chunk i carries sequence number i (1-based).
func (s *Simulated) OpenStream(ctx context.Context, jobID string, after int64) (io.ReadCloser, error) {
	s.mu.Lock()
	_, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrUnknownUpstreamJob
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.pump(ctx, jobID, after, stream.NewEncoder(pw)))
	}()
	return pr, nil
}

func (s *Simulated) pump(ctx context.Context, jobID string, after int64, enc *stream.Encoder) error {
	sent := int(after)
	announced := model.TaskStatus("")
	for {
		s.mu.Lock()
		j := s.jobs[jobID]
		st, n, msg := s.view(j, s.now())
		chunks := j.chunks
		s.mu.Unlock()

		if st != announced && !st.IsTerminal() {
			if err := enc.Encode(stream.JobStatus{JobID: jobID, Status: st, Cursor: int64(sent)}); err != nil {
				return err
			}
			announced = st
		}
		for ; sent < n; sent++ {
			if err := enc.EncodeSeq(stream.ContentDelta{Text: chunks[sent]}, int64(sent+1)); err != nil {
				return err
			}
		}
		if st.IsTerminal() {
			if err := enc.Encode(stream.JobStatus{JobID: jobID, Status: st, Message: msg, Cursor: int64(sent)}); err != nil {
				return err
			}
			return enc.Done()
		}

		wait := s.Step
		if st == model.TaskStatusQueued || wait <= 0 {
			wait = s.QueueDelay
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
