package upstream

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/stream"
)

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time { return c.t }

func newSim(clk *manualClock) *Simulated {
	s := NewSimulated(time.Second, time.Second)
	s.now = clk.Now
	return s
}

func TestSimulated_Lifecycle(t *testing.T) {
	ctx := context.Background()
	clk := &manualClock{t: time.Unix(1_700_000_000, 0)}
	s := newSim(clk)

	id, err := s.Submit(ctx, adapter.JobRequest{Model: "m", Prompt: "ping"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "sim_"))

	snap, err := s.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, snap.Status)
	assert.Empty(t, snap.Output)

	clk.t = clk.t.Add(2 * time.Second)
	snap, _ = s.Retrieve(ctx, id)
	assert.Equal(t, model.TaskStatusInProgress, snap.Status)
	assert.Equal(t, "Simulated answer", snap.Output)

	clk.t = clk.t.Add(time.Hour)
	snap, _ = s.Retrieve(ctx, id)
	assert.Equal(t, model.TaskStatusCompleted, snap.Status)
	assert.Equal(t, "Simulated answer from m to: ping", snap.Output)

	st, err := s.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, st, "cancel after completion reports the terminal truth")
}

func TestSimulated_CancelFreezesOutput(t *testing.T) {
	ctx := context.Background()
	clk := &manualClock{t: time.Unix(1_700_000_000, 0)}
	s := newSim(clk)
	id, _ := s.Submit(ctx, adapter.JobRequest{Model: "m", Prompt: "a longer prompt here"})

	clk.t = clk.t.Add(2 * time.Second)
	st, err := s.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, st)

	clk.t = clk.t.Add(time.Hour)
	snap, _ := s.Retrieve(ctx, id)
	assert.Equal(t, model.TaskStatusCancelled, snap.Status)
	assert.Equal(t, "Simulated answer", snap.Output)
}

func TestSimulated_FailMarker(t *testing.T) {
	ctx := context.Background()
	clk := &manualClock{t: time.Unix(1_700_000_000, 0)}
	s := newSim(clk)
	id, _ := s.Submit(ctx, adapter.JobRequest{Prompt: "please " + FailMarker})

	clk.t = clk.t.Add(time.Hour)
	snap, _ := s.Retrieve(ctx, id)
	assert.Equal(t, model.TaskStatusFailed, snap.Status)
	assert.Equal(t, "simulated failure", snap.Error)
}

func TestSimulated_UnknownJob(t *testing.T) {
	s := NewSimulated(0, 0)
	_, err := s.Retrieve(context.Background(), "sim_nope")
	assert.ErrorIs(t, err, domain.ErrUnknownUpstreamJob)
	_, err = s.OpenStream(context.Background(), "sim_nope", 0)
	assert.ErrorIs(t, err, domain.ErrUnknownUpstreamJob)
}

func TestSimulated_OpenStreamResumesAfterCursor(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated(0, 0)
	id, _ := s.Submit(ctx, adapter.JobRequest{Model: "m", Prompt: "ping"})

	rc, err := s.OpenStream(ctx, id, 2)
	require.NoError(t, err)
	defer rc.Close()

	acc := stream.NewAccumulator(stream.WithSeed(stream.SeedFromOutput("Simulated answer", 2)))
	r := stream.NewReader(rc)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		acc.ApplyFrame(stream.ClassifyFrame(rec))
	}
	st := acc.State()
	assert.True(t, r.Terminated())
	assert.Equal(t, "Simulated answer from m to: ping", st.Content)
	assert.Equal(t, model.TaskStatusCompleted, st.Status)
	assert.Equal(t, int64(6), st.Cursor)
}
