// Package client talks to a taskstream server and folds its event streams
// with the same decoder and accumulator the server uses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"taskstream/internal/domain/model"
	"taskstream/internal/stream"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

// New builds a client. httpClient may be nil; it must not carry a timeout
// when streams are read through it.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

type Status struct {
	Status     model.TaskStatus `json:"status"`
	OutputText string           `json:"outputText,omitempty"`
	Error      string           `json:"error,omitempty"`
	Cursor     int64            `json:"cursor"`
}

type SubmitRequest struct {
	Prompt         string `json:"prompt"`
	Instructions   string `json:"instructions,omitempty"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Stream         bool   `json:"stream,omitempty"`
}

func (c *Client) Status(ctx context.Context, jobID string) (*Status, error) {
	var out Status
	if err := c.call(ctx, http.MethodPost, "/tasks/status", map[string]string{"jobId": jobID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Cancel(ctx context.Context, jobID string) (model.TaskStatus, error) {
	var out Status
	if err := c.call(ctx, http.MethodPost, "/tasks/cancel", map[string]string{"jobId": jobID}, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) Active(ctx context.Context) ([]*model.TaskRecord, error) {
	var out struct {
		Tasks []*model.TaskRecord `json:"tasks"`
	}
	if err := c.call(ctx, http.MethodGet, "/tasks/active", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*model.TaskRecord, error) {
	req.Stream = false
	var out model.TaskRecord
	if err := c.call(ctx, http.MethodPost, "/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitStream submits and follows the primary stream. onFrame sees every
// frame together with the state after it.
func (c *Client) SubmitStream(ctx context.Context, req SubmitRequest, onFrame func(stream.Frame, stream.State)) (stream.State, error) {
	req.Stream = true
	resp, err := c.do(ctx, http.MethodPost, "/tasks", req)
	if err != nil {
		return stream.State{}, err
	}
	defer resp.Body.Close()
	return Follow(resp.Body, stream.State{}, onFrame)
}

// Resume continues a job from what the client already holds. It first asks
// for the job's status, seeds the fold with the returned output and then
// follows the resume stream from that cursor and byte offset.
func (c *Client) Resume(ctx context.Context, jobID string, onFrame func(stream.Frame, stream.State)) (stream.State, error) {
	st, err := c.Status(ctx, jobID)
	if err != nil {
		return stream.State{}, err
	}
	seed := stream.SeedFromOutput(st.OutputText, st.Cursor)
	if st.Status.IsTerminal() {
		seed.Status = st.Status
		seed.StatusMessage = st.Error
		seed.Done = true
		return seed, nil
	}
	resp, err := c.do(ctx, http.MethodPost, "/tasks/resume", map[string]any{
		"jobId":  jobID,
		"cursor": st.Cursor,
		"offset": len(seed.Content),
	})
	if err != nil {
		return stream.State{}, err
	}
	defer resp.Body.Close()
	return Follow(resp.Body, seed, onFrame)
}

// Follow folds an event-stream body into seed until the stream ends.
func Follow(body io.Reader, seed stream.State, onFrame func(stream.Frame, stream.State)) (stream.State, error) {
	r := stream.NewReader(body)
	acc := stream.NewAccumulator(stream.WithSeed(seed))
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return acc.State(), fmt.Errorf("read stream: %w", err)
		}
		f := stream.ClassifyFrame(rec)
		if len(f.Events) == 0 {
			continue
		}
		st := acc.ApplyFrame(f)
		if onFrame != nil {
			onFrame(f, st)
		}
	}
	return acc.State(), nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
		return nil, &APIError{Code: resp.StatusCode, Message: eb.Error}
	}
	return resp, nil
}
