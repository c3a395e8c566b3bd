package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/responses"
	"github.com/openai/openai-go/v2/shared"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/stream"
)

var (
	_ adapter.UpstreamJobs     = (*OpenAIResponses)(nil)
	_ adapter.UpstreamStreamer = (*OpenAIResponses)(nil)
)

// OpenAIResponses runs jobs through the Responses API in background mode.
type OpenAIResponses struct {
	client openai.Client
	model  string
}

func NewOpenAIResponses(apiKey, baseURL, defaultModel string) (*OpenAIResponses, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIResponses{client: openai.NewClient(opts...), model: defaultModel}, nil
}

func (o *OpenAIResponses) Name() string { return "openai" }

func (o *OpenAIResponses) Submit(ctx context.Context, req adapter.JobRequest) (string, error) {
	params := responses.ResponseNewParams{
		Model:      shared.ResponsesModel(modelOrDefault(req.Model, o.model)),
		Input:      responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Prompt)},
		Background: openai.Bool(true),
		Store:      openai.Bool(true),
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", mapOpenAIError(err)
	}
	return resp.ID, nil
}

func (o *OpenAIResponses) Retrieve(ctx context.Context, jobID string) (adapter.JobSnapshot, error) {
	resp, err := o.client.Responses.Get(ctx, jobID, responses.ResponseGetParams{})
	if err != nil {
		return adapter.JobSnapshot{}, mapOpenAIError(err)
	}
	return snapshotOf(resp), nil
}

func (o *OpenAIResponses) Cancel(ctx context.Context, jobID string) (model.TaskStatus, error) {
	resp, err := o.client.Responses.Cancel(ctx, jobID)
	if err != nil {
		return "", mapOpenAIError(err)
	}
	return snapshotOf(resp).Status, nil
}

// OpenStream re-attaches to a background response and translates the
// provider's event stream into the service wire format.
func (o *OpenAIResponses) OpenStream(ctx context.Context, jobID string, after int64) (io.ReadCloser, error) {
	params := responses.ResponseGetParams{}
	if after > 0 {
		params.StartingAfter = openai.Int(after)
	}
	es := o.client.Responses.GetStreaming(ctx, jobID, params)

	pr, pw := io.Pipe()
	go func() {
		defer es.Close()
		enc := stream.NewEncoder(pw)
		for es.Next() {
			ev := es.Current()
			seq, events := translateResponsesEvent(jobID, []byte(ev.RawJSON()))
			for _, e := range events {
				if err := enc.EncodeSeq(e, seq); err != nil {
					pw.CloseWithError(err)
					return
				}
			}
		}
		if err := es.Err(); err != nil {
			pw.CloseWithError(mapOpenAIError(err))
			return
		}
		_ = enc.Done()
		pw.Close()
	}()
	return pr, nil
}

func snapshotOf(resp *responses.Response) adapter.JobSnapshot {
	st := model.TaskStatus(resp.Status)
	if !st.Valid() {
		st = model.TaskStatusInProgress
	}
	snap := adapter.JobSnapshot{ID: resp.ID, Status: st, Output: resp.OutputText()}
	if resp.Error.Message != "" {
		snap.Error = resp.Error.Message
	}
	if st == model.TaskStatusIncomplete && snap.Error == "" && resp.IncompleteDetails.Reason != "" {
		snap.Error = "incomplete: " + resp.IncompleteDetails.Reason
	}
	return snap
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", domain.ErrUnknownUpstreamJob, err)
	}
	return fmt.Errorf("%w: openai: %v", domain.ErrUpstream, err)
}
