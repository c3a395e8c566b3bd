package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
)

var _ adapter.UpstreamJobs = (*GeminiBatch)(nil)

// GeminiBatch runs each job as a single inlined request of the Gemini Batch
// API. Batches have no live event stream, so clients only ever resume by
// polling.
type GeminiBatch struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiBatch(ctx context.Context, apiKey, baseURL, defaultModel string) (*GeminiBatch, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiBatch{client: c, defaultModel: defaultModel}, nil
}

func (g *GeminiBatch) Name() string { return "gemini" }

func (g *GeminiBatch) Submit(ctx context.Context, req adapter.JobRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidArgument)
	}
	m := modelOrDefault(req.Model, g.defaultModel)
	inlined := &genai.InlinedRequest{
		Model:    m,
		Contents: []*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Prompt}}}},
	}
	if req.Instructions != "" {
		inlined.Config = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.Instructions}}},
		}
	}
	job, err := g.client.Batches.Create(ctx, m, &genai.BatchJobSource{
		InlinedRequests: []*genai.InlinedRequest{inlined},
	}, nil)
	if err != nil {
		return "", mapGeminiError(err)
	}
	return job.Name, nil
}

func (g *GeminiBatch) Retrieve(ctx context.Context, jobID string) (adapter.JobSnapshot, error) {
	job, err := g.client.Batches.Get(ctx, jobID, nil)
	if err != nil {
		return adapter.JobSnapshot{}, mapGeminiError(err)
	}
	return batchSnapshot(job), nil
}

// Cancel asks for cancellation and reports the state the batch is in
// afterwards; a batch that already finished keeps its terminal state.
func (g *GeminiBatch) Cancel(ctx context.Context, jobID string) (model.TaskStatus, error) {
	if err := g.client.Batches.Cancel(ctx, jobID, nil); err != nil {
		return "", mapGeminiError(err)
	}
	job, err := g.client.Batches.Get(ctx, jobID, nil)
	if err != nil {
		return model.TaskStatusCancelled, nil
	}
	st := batchSnapshot(job).Status
	if !st.IsTerminal() {
		// Cancellation was accepted and is in flight.
		return model.TaskStatusCancelled, nil
	}
	return st, nil
}

func batchSnapshot(job *genai.BatchJob) adapter.JobSnapshot {
	snap := adapter.JobSnapshot{ID: job.Name, Status: batchStatus(string(job.State))}
	if job.Error != nil && job.Error.Message != "" {
		snap.Error = job.Error.Message
	}
	if job.Dest == nil {
		return snap
	}
	for _, r := range job.Dest.InlinedResponses {
		if r == nil {
			continue
		}
		if r.Error != nil && r.Error.Message != "" && snap.Error == "" {
			snap.Error = r.Error.Message
		}
		snap.Output += responseText(r.Response)
	}
	return snap
}

func batchStatus(state string) model.TaskStatus {
	switch state {
	case "JOB_STATE_QUEUED", "JOB_STATE_PENDING", "JOB_STATE_UNSPECIFIED", "":
		return model.TaskStatusQueued
	case "JOB_STATE_SUCCEEDED":
		return model.TaskStatusCompleted
	case "JOB_STATE_FAILED":
		return model.TaskStatusFailed
	case "JOB_STATE_CANCELLED":
		return model.TaskStatusCancelled
	case "JOB_STATE_EXPIRED", "JOB_STATE_PARTIALLY_SUCCEEDED":
		return model.TaskStatusIncomplete
	default:
		// RUNNING, CANCELLING, PAUSED, UPDATING
		return model.TaskStatusInProgress
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", domain.ErrUnknownUpstreamJob, err)
	}
	return fmt.Errorf("%w: gemini: %v", domain.ErrUpstream, err)
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
