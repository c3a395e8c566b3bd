package upstream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
)

type slowJobs struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowJobs) Name() string { return "slow" }
func (s *slowJobs) Submit(ctx context.Context, req adapter.JobRequest) (string, error) {
	return "", nil
}
func (s *slowJobs) Retrieve(ctx context.Context, id string) (adapter.JobSnapshot, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return adapter.JobSnapshot{ID: id, Status: model.TaskStatusInProgress}, nil
}
func (s *slowJobs) Cancel(ctx context.Context, id string) (model.TaskStatus, error) {
	return model.TaskStatusCancelled, nil
}

func TestNewLimited_BoundsConcurrency(t *testing.T) {
	inner := &slowJobs{}
	l := NewLimited(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Retrieve(context.Background(), "j")
		}()
	}
	wg.Wait()
	if p := inner.peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}
}

func TestNewLimited_RespectsContext(t *testing.T) {
	l := NewLimited(&slowJobs{}, 1).(*limited)
	l.sem <- struct{}{} // saturate
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Retrieve(ctx, "j"); err == nil {
		t.Fatal("expected context error while saturated")
	}
}

func TestNewLimited_KeepsStreamer(t *testing.T) {
	if _, ok := NewLimited(NewSimulated(0, 0), 1).(adapter.UpstreamStreamer); !ok {
		t.Fatal("limited simulated upstream lost its streamer")
	}
	if NewLimited(&slowJobs{}, 0) == nil {
		t.Fatal("zero limit must return inner")
	}
}
