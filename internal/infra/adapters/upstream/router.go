package upstream

import (
	"context"
	"fmt"
	"io"
	"strings"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
)

var (
	_ adapter.UpstreamJobs     = (*Router)(nil)
	_ adapter.UpstreamStreamer = (*Router)(nil)
)

// Router fans jobs out to several providers. New jobs are routed by model
// name; existing jobs by the shape of their id, so records created under one
// provider stay reconcilable after the default changes.
type Router struct {
	defaultProvider string
	byProvider      map[string]adapter.UpstreamJobs
	modelToProvider map[string]string
}

func NewRouter(defaultProvider string, byProvider map[string]adapter.UpstreamJobs, modelToProvider map[string]string) *Router {
	return &Router{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (r *Router) Name() string { return r.defaultProvider }

func (r *Router) providerForModel(model string) string {
	if p := r.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return "openai"
	default:
		return r.defaultProvider
	}
}

// providerForJob maps a job id to the provider that issued it. known is
// false for ids whose shape names no provider.
func (r *Router) providerForJob(jobID string) (provider string, known bool) {
	switch {
	case strings.HasPrefix(jobID, "resp_"):
		return "openai", true
	case strings.HasPrefix(jobID, "batches/"):
		return "gemini", true
	case strings.HasPrefix(jobID, "sim_"):
		return "simulated", true
	default:
		return r.defaultProvider, false
	}
}

func (r *Router) pick(provider string) (adapter.UpstreamJobs, error) {
	if a := r.byProvider[provider]; a != nil {
		return a, nil
	}
	if a := r.byProvider[r.defaultProvider]; a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("%w: no adapter for provider %q", domain.ErrUpstream, provider)
}

// pickJob routes an existing job only to the provider that issued it. An
// unregistered issuer is an upstream outage, not an unknown job.
func (r *Router) pickJob(jobID string) (adapter.UpstreamJobs, error) {
	provider, known := r.providerForJob(jobID)
	if !known {
		return r.pick(provider)
	}
	if a := r.byProvider[provider]; a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("%w: provider %q for job %s is not configured", domain.ErrUpstream, provider, jobID)
}

// ProviderFor reports which provider a new job for model would go to.
func (r *Router) ProviderFor(model string) string {
	a, err := r.pick(r.providerForModel(model))
	if err != nil {
		return ""
	}
	return a.Name()
}

func (r *Router) Submit(ctx context.Context, req adapter.JobRequest) (string, error) {
	a, err := r.pick(r.providerForModel(req.Model))
	if err != nil {
		return "", err
	}
	return a.Submit(ctx, req)
}

func (r *Router) Retrieve(ctx context.Context, jobID string) (adapter.JobSnapshot, error) {
	a, err := r.pickJob(jobID)
	if err != nil {
		return adapter.JobSnapshot{}, err
	}
	return a.Retrieve(ctx, jobID)
}

func (r *Router) Cancel(ctx context.Context, jobID string) (model.TaskStatus, error) {
	a, err := r.pickJob(jobID)
	if err != nil {
		return "", err
	}
	return a.Cancel(ctx, jobID)
}

func (r *Router) OpenStream(ctx context.Context, jobID string, after int64) (io.ReadCloser, error) {
	a, err := r.pickJob(jobID)
	if err != nil {
		return nil, err
	}
	s, ok := a.(adapter.UpstreamStreamer)
	if !ok {
		return nil, domain.ErrStreamNotSupported
	}
	return s.OpenStream(ctx, jobID, after)
}
