package upstream_test

import (
	"context"
	"errors"
	"testing"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/infra/adapters/upstream"
)

type stubJobs struct {
	name      string
	submits   int
	retrieves int
	cancels   int
	lastModel string
}

func (s *stubJobs) Name() string { return s.name }
func (s *stubJobs) Submit(ctx context.Context, req adapter.JobRequest) (string, error) {
	s.submits++
	s.lastModel = req.Model
	return s.name + "-job", nil
}
func (s *stubJobs) Retrieve(ctx context.Context, id string) (adapter.JobSnapshot, error) {
	s.retrieves++
	return adapter.JobSnapshot{ID: id, Status: model.TaskStatusInProgress}, nil
}
func (s *stubJobs) Cancel(ctx context.Context, id string) (model.TaskStatus, error) {
	s.cancels++
	return model.TaskStatusCancelled, nil
}

func TestRouter_ModelAndJobRouting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	open := &stubJobs{name: "openai"}
	gem := &stubJobs{name: "gemini"}

	r := upstream.NewRouter(
		"openai",
		map[string]adapter.UpstreamJobs{"openai": open, "gemini": gem},
		map[string]string{"custom-x": "gemini"},
	)

	// explicit map wins
	_, _ = r.Submit(ctx, adapter.JobRequest{Model: "custom-x", Prompt: "hi"})
	if gem.submits != 1 || open.submits != 0 {
		t.Fatalf("explicit map should route to gemini, got open:%d gem:%d", open.submits, gem.submits)
	}

	// gpt-* -> openai, unknown -> default
	_, _ = r.Submit(ctx, adapter.JobRequest{Model: "gpt-4o-mini", Prompt: "hi"})
	_, _ = r.Submit(ctx, adapter.JobRequest{Model: "mystery", Prompt: "hi"})
	if open.submits != 2 {
		t.Fatalf("gpt-* and unknown models should go to openai, got %d", open.submits)
	}

	// existing jobs route by id shape
	_, _ = r.Retrieve(ctx, "batches/abc")
	_, _ = r.Cancel(ctx, "resp_123")
	if gem.retrieves != 1 || open.cancels != 1 {
		t.Fatalf("id routing: gem.retrieves=%d open.cancels=%d", gem.retrieves, open.cancels)
	}

	if p := r.ProviderFor("gemini-2.5-flash"); p != "gemini" {
		t.Fatalf("ProviderFor = %q", p)
	}
}

func TestRouter_StreamNotSupported(t *testing.T) {
	t.Parallel()
	r := upstream.NewRouter("gemini", map[string]adapter.UpstreamJobs{"gemini": &stubJobs{name: "gemini"}}, nil)
	_, err := r.OpenStream(context.Background(), "batches/1", 0)
	if !errors.Is(err, domain.ErrStreamNotSupported) {
		t.Fatalf("err = %v, want ErrStreamNotSupported", err)
	}
}

func TestRouter_UnconfiguredIssuerIsAnOutage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sim := &stubJobs{name: "simulated"}
	r := upstream.NewRouter("simulated", map[string]adapter.UpstreamJobs{"simulated": sim}, nil)

	for _, id := range []string{"resp_123", "batches/abc"} {
		_, err := r.Retrieve(ctx, id)
		if !errors.Is(err, domain.ErrUpstream) || errors.Is(err, domain.ErrUnknownUpstreamJob) {
			t.Fatalf("Retrieve(%s) err = %v, want ErrUpstream only", id, err)
		}
		if _, err := r.Cancel(ctx, id); !errors.Is(err, domain.ErrUpstream) {
			t.Fatalf("Cancel(%s) err = %v, want ErrUpstream", id, err)
		}
		if _, err := r.OpenStream(ctx, id, 0); !errors.Is(err, domain.ErrUpstream) {
			t.Fatalf("OpenStream(%s) err = %v, want ErrUpstream", id, err)
		}
	}
	if sim.retrieves != 0 || sim.cancels != 0 {
		t.Fatalf("default provider was asked about foreign jobs: retrieves=%d cancels=%d", sim.retrieves, sim.cancels)
	}

	// Ids of no known shape still go to the default provider.
	if _, err := r.Retrieve(ctx, "legacy-42"); err != nil {
		t.Fatalf("Retrieve(legacy-42): %v", err)
	}
	if sim.retrieves != 1 {
		t.Fatalf("default retrieves = %d, want 1", sim.retrieves)
	}
}
