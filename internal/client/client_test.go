package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskstream/internal/domain/model"
	"taskstream/internal/stream"
)

// fakeServer checkpointed "Hello, wo" at cursor 2 and will finish the job
// when resumed.
func fakeServer(t *testing.T, status model.TaskStatus) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(Status{Status: status, OutputText: "Hello, wo", Cursor: 2})
	})
	mux.HandleFunc("/tasks/resume", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			JobID  string `json:"jobId"`
			Cursor *int64 `json:"cursor"`
			Offset *int64 `json:"offset"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.Cursor)
		assert.Equal(t, int64(2), *body.Cursor)
		require.NotNil(t, body.Offset, "resume must declare the output it holds")
		assert.Equal(t, int64(len("Hello, wo")), *body.Offset)

		w.Header().Set("Content-Type", "text/event-stream")
		enc := stream.NewEncoder(w)
		_ = enc.Comment("keep-alive")
		_ = enc.Encode(stream.ContentDelta{Text: "rld!"})
		_ = enc.Encode(stream.JobStatus{JobID: body.JobID, Status: model.TaskStatusCompleted, Cursor: 3})
		_ = enc.Done()
	})
	mux.HandleFunc("/tasks/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Forbidden"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResume_SeedsFromStatus(t *testing.T) {
	srv := fakeServer(t, model.TaskStatusInProgress)
	c := New(srv.URL, "tok", srv.Client())

	var seen int
	st, err := c.Resume(context.Background(), "job1", func(stream.Frame, stream.State) { seen++ })
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
	assert.Equal(t, "Hello, world!", st.Content)
	assert.Equal(t, model.TaskStatusCompleted, st.Status)
	assert.Equal(t, int64(3), st.Cursor)
	assert.True(t, st.Done)
}

func TestResume_TerminalNeedsNoStream(t *testing.T) {
	srv := fakeServer(t, model.TaskStatusCancelled)
	c := New(srv.URL, "tok", srv.Client())

	st, err := c.Resume(context.Background(), "job1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, wo", st.Content)
	assert.Equal(t, model.TaskStatusCancelled, st.Status)
	assert.True(t, st.Done)
}

func TestAPIError(t *testing.T) {
	srv := fakeServer(t, model.TaskStatusQueued)
	c := New(srv.URL, "tok", srv.Client())

	_, err := c.Cancel(context.Background(), "job1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Code)
	assert.Equal(t, "Forbidden", apiErr.Message)
}

func TestFollow_CountsUnsequencedFrames(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n"
	st, err := Follow(strings.NewReader(body), stream.State{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi", st.Content)
	assert.Equal(t, int64(1), st.Cursor)
}
