package upstream

import (
	"context"
	"io"

	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.UpstreamJobs = (*limited)(nil)

type limited struct {
	inner adapter.UpstreamJobs
	sem   chan struct{}
}

type limitedStreamer struct {
	*limited
	streamer adapter.UpstreamStreamer
}

// NewLimited bounds the number of in-flight upstream calls. Open streams are
// not counted; only the call that opens them is.
func NewLimited(inner adapter.UpstreamJobs, maxConcurrent int) adapter.UpstreamJobs {
	if maxConcurrent <= 0 {
		return inner
	}
	l := &limited{inner: inner, sem: make(chan struct{}, maxConcurrent)}
	if s, ok := inner.(adapter.UpstreamStreamer); ok {
		return &limitedStreamer{limited: l, streamer: s}
	}
	return l
}

func (l *limited) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limited) release() { <-l.sem }

func (l *limited) Name() string { return l.inner.Name() }

func (l *limited) Submit(ctx context.Context, req adapter.JobRequest) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.Submit(ctx, req)
}

func (l *limited) Retrieve(ctx context.Context, jobID string) (adapter.JobSnapshot, error) {
	if err := l.acquire(ctx); err != nil {
		return adapter.JobSnapshot{}, err
	}
	defer l.release()
	return l.inner.Retrieve(ctx, jobID)
}

func (l *limited) Cancel(ctx context.Context, jobID string) (model.TaskStatus, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.Cancel(ctx, jobID)
}

func (l *limitedStreamer) OpenStream(ctx context.Context, jobID string, after int64) (io.ReadCloser, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.streamer.OpenStream(ctx, jobID, after)
}
