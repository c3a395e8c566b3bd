package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/infra/logging"
	"taskstream/internal/stream"
	"taskstream/internal/usecase"
)

type jobRequest struct {
	JobID  string `json:"jobId"`
	Cursor *int64 `json:"cursor,omitempty"`
	// Offset is the byte length of output the client already holds.
	Offset *int64 `json:"offset,omitempty"`
}

type statusResponse struct {
	Status     model.TaskStatus `json:"status"`
	OutputText string           `json:"outputText,omitempty"`
	Error      string           `json:"error,omitempty"`
	Cursor     int64            `json:"cursor"`
}

type submitRequest struct {
	Prompt         string `json:"prompt"`
	Instructions   string `json:"instructions,omitempty"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Stream         bool   `json:"stream,omitempty"`
}

func (s *Server) readJob(w http.ResponseWriter, r *http.Request) (jobRequest, bool) {
	var req jobRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return req, false
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		writeError(w, s.log, domain.ErrInvalidArgument)
		return req, false
	}
	return req, true
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	recs, err := s.tasks.ListActive(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Tasks []*model.TaskRecord `json:"tasks"`
	}{Tasks: recs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readJob(w, r)
	if !ok {
		return
	}
	rec, err := s.tasks.Status(r.Context(), req.JobID, OwnerFrom(r.Context()))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     rec.Status,
		OutputText: rec.PartialOutput,
		Error:      rec.Error,
		Cursor:     rec.Cursor,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readJob(w, r)
	if !ok {
		return
	}
	st, err := s.cancel.Cancel(r.Context(), req.JobID, OwnerFrom(r.Context()))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: st})
}

// handleResume streams a resumed job. Errors before the first byte are
// plain HTTP errors; after that they travel inline as error frames.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readJob(w, r)
	if !ok {
		return
	}
	ctx := logging.WithJobID(r.Context(), req.JobID)
	var opts []usecase.ResumeOption
	if req.Offset != nil {
		opts = append(opts, usecase.WithHeldOutput(*req.Offset))
	}
	rs, err := s.resume.Resume(ctx, req.JobID, OwnerFrom(ctx), req.Cursor, opts...)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	sse := newSSEWriter(w)
	s.pipeResume(ctx, sse, rs)
}

func (s *Server) pipeResume(ctx context.Context, sse *sseWriter, rs *usecase.ResumeStream) {
	kctx, stop := context.WithCancel(ctx)
	defer stop()
	go sse.keepAlive(kctx, s.opts.KeepAlive)

	for ev := range rs.Events {
		if err := sse.event(ev); err != nil {
			// Draining lets the poller notice ctx and exit.
			for range rs.Events {
			}
			return
		}
	}
	if ctx.Err() == nil {
		_ = sse.done()
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	owner := OwnerFrom(r.Context())
	rec, err := s.tasks.Submit(r.Context(), usecase.SubmitRequest{
		OwnerID:        owner,
		ConversationID: req.ConversationID,
		Model:          req.Model,
		Prompt:         req.Prompt,
		Instructions:   req.Instructions,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if !req.Stream {
		writeJSON(w, http.StatusAccepted, rec)
		return
	}

	ctx := logging.WithJobID(r.Context(), rec.JobID)
	sse := newSSEWriter(w)
	// The first frame names the job so the client can resume it later.
	if err := sse.event(stream.JobStatus{JobID: rec.JobID, Status: rec.Status}); err != nil {
		return
	}

	kctx, stop := context.WithCancel(ctx)
	go sse.keepAlive(kctx, s.opts.KeepAlive)
	_, err = s.tasks.Attach(ctx, rec.JobID, owner, 0, sse.frame)
	stop()

	switch {
	case errors.Is(err, domain.ErrStreamNotSupported):
		// Providers without live streams are followed by polling.
		rs, rerr := s.resume.Resume(ctx, rec.JobID, owner, nil, usecase.WithHeldOutput(0))
		if rerr != nil {
			s.inlineError(ctx, sse, rerr)
			return
		}
		s.pipeResume(ctx, sse, rs)
		return
	case err != nil:
		s.inlineError(ctx, sse, err)
		return
	}
	if ctx.Err() == nil {
		_ = sse.done()
	}
}

func (s *Server) inlineError(ctx context.Context, sse *sseWriter, err error) {
	logging.With(ctx, s.log).Warn().Err(err).Msg("stream failed after headers")
	msg := http.StatusText(statusFor(err))
	_ = sse.event(stream.ErrorEvent{Type: "stream", Message: msg})
	_ = sse.done()
}
