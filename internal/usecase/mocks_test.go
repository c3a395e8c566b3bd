// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/infra/db/memory"
)

var errUpstreamDown = errors.New("upstream down")

// fakeUpstream scripts Retrieve/Cancel answers and counts calls.
type fakeUpstream struct {
	mu           sync.Mutex
	snapshots    []adapter.JobSnapshot // consumed in order; the last one repeats
	retrieveErr  error
	cancelStatus model.TaskStatus
	cancelErr    error
	cancelGate   chan struct{} // when set, Cancel blocks until it is closed
	body         func() io.ReadCloser

	submits   int
	retrieves int
	cancels   int
}

func (f *fakeUpstream) Name() string { return "fake" }

func (f *fakeUpstream) Submit(ctx context.Context, req adapter.JobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return "resp_fake_" + strings.Repeat("x", f.submits), nil
}

func (f *fakeUpstream) Retrieve(ctx context.Context, jobID string) (adapter.JobSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieves++
	if f.retrieveErr != nil {
		return adapter.JobSnapshot{}, f.retrieveErr
	}
	if len(f.snapshots) == 0 {
		return adapter.JobSnapshot{ID: jobID, Status: model.TaskStatusInProgress}, nil
	}
	s := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	s.ID = jobID
	return s, nil
}

func (f *fakeUpstream) Cancel(ctx context.Context, jobID string) (model.TaskStatus, error) {
	f.mu.Lock()
	f.cancels++
	gate := f.cancelGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.cancelErr != nil {
		return "", f.cancelErr
	}
	if f.cancelStatus == "" {
		return model.TaskStatusCancelled, nil
	}
	return f.cancelStatus, nil
}

func (f *fakeUpstream) calls() (retrieves, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retrieves, f.cancels
}

// fakeStreamer adds a scripted live stream to fakeUpstream.
type fakeStreamer struct {
	*fakeUpstream
	openedAfter int64
}

func (f *fakeStreamer) OpenStream(ctx context.Context, jobID string, after int64) (io.ReadCloser, error) {
	f.openedAfter = after
	return f.body(), nil
}

// failingBody yields data and then a transport error instead of EOF.
type failingBody struct {
	r   io.Reader
	err error
}

func (b *failingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, b.err
	}
	return n, err
}

func (b *failingBody) Close() error { return nil }

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

type stubLocker struct {
	held    bool
	unlocks int
}

func (l *stubLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.held {
		return "", domain.ErrLockHeld
	}
	return "tok", nil
}

func (l *stubLocker) Unlock(ctx context.Context, key, token string) error {
	l.unlocks++
	return nil
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func seedRecord(repo *memory.TaskRecordRepo, jobID, owner string, status model.TaskStatus, cursor int64, output string) {
	ctx := context.Background()
	rec := model.NewTaskRecord(jobID, "req-"+jobID, owner)
	if err := repo.Put(ctx, rec); err != nil {
		panic(err)
	}
	if cursor > 0 || output != "" {
		_ = repo.Checkpoint(ctx, jobID, cursor, output)
	}
	if status != model.TaskStatusQueued {
		_, _ = repo.UpdateStatus(ctx, jobID, model.StatusUpdate{Status: status})
	}
}

func strp(s string) *string { return &s }
