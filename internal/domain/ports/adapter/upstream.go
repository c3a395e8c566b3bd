package adapter

import (
	"context"
	"io"

	"taskstream/internal/domain/model"
)

// JobRequest is what gets submitted to the upstream provider. Prompt building
// happens before this point.
type JobRequest struct {
	Model  string
	Prompt string
	// Instructions is an optional system message.
	Instructions string
}

// JobSnapshot is the upstream provider's authoritative view of a job.
type JobSnapshot struct {
	ID     string
	Status model.TaskStatus
	Output string
	Error  string
}

// UpstreamJobs is the port for the generation provider's background-job API.
type UpstreamJobs interface {
	Name() string
	Submit(ctx context.Context, req JobRequest) (string, error)
	Retrieve(ctx context.Context, jobID string) (JobSnapshot, error)
	Cancel(ctx context.Context, jobID string) (model.TaskStatus, error)
}

// UpstreamStreamer is implemented by providers that can re-open a live event
// stream for a job. The returned body is in the service's wire format and
// starts after the given cursor.
type UpstreamStreamer interface {
	OpenStream(ctx context.Context, jobID string, after int64) (io.ReadCloser, error)
}
