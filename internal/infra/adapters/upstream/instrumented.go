package upstream

import (
	"context"
	"errors"
	"io"
	"time"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/infra/metrics"
)

type instrumented struct {
	inner adapter.UpstreamJobs
}

type instrumentedStreamer struct {
	instrumented
	streamer adapter.UpstreamStreamer
}

// NewInstrumented records call latency per provider and operation.
func NewInstrumented(inner adapter.UpstreamJobs) adapter.UpstreamJobs {
	i := instrumented{inner: inner}
	if s, ok := inner.(adapter.UpstreamStreamer); ok {
		return &instrumentedStreamer{instrumented: i, streamer: s}
	}
	return &i
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	// An unknown job is a valid answer, not a provider failure.
	ok := err == nil || errors.Is(err, domain.ErrUnknownUpstreamJob)
	metrics.ObserveUpstreamCall(i.inner.Name(), op, time.Since(start), ok)
}

func (i *instrumented) Name() string { return i.inner.Name() }

func (i *instrumented) Submit(ctx context.Context, req adapter.JobRequest) (id string, err error) {
	defer func(start time.Time) { i.observe("submit", start, err) }(time.Now())
	return i.inner.Submit(ctx, req)
}

func (i *instrumented) Retrieve(ctx context.Context, jobID string) (snap adapter.JobSnapshot, err error) {
	defer func(start time.Time) { i.observe("retrieve", start, err) }(time.Now())
	return i.inner.Retrieve(ctx, jobID)
}

func (i *instrumented) Cancel(ctx context.Context, jobID string) (st model.TaskStatus, err error) {
	defer func(start time.Time) { i.observe("cancel", start, err) }(time.Now())
	return i.inner.Cancel(ctx, jobID)
}

func (i *instrumentedStreamer) OpenStream(ctx context.Context, jobID string, after int64) (rc io.ReadCloser, err error) {
	defer func(start time.Time) { i.observe("open_stream", start, err) }(time.Now())
	return i.streamer.OpenStream(ctx, jobID, after)
}
