package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"taskstream/internal/domain/model"
	"taskstream/internal/usecase"
)

type Resumer interface {
	Resume(ctx context.Context, jobID, requesterID string, cursor *int64, opts ...usecase.ResumeOption) (*usecase.ResumeStream, error)
}

type Canceller interface {
	Cancel(ctx context.Context, jobID, requesterID string) (model.TaskStatus, error)
}

type Options struct {
	RequestTimeout time.Duration
	KeepAlive      time.Duration
}

// Server exposes the task endpoints.
type Server struct {
	tasks  usecase.TaskUseCase
	resume Resumer
	cancel Canceller
	auth   *AuthManager
	opts   Options
	log    *zerolog.Logger
}

func NewServer(tasks usecase.TaskUseCase, resume Resumer, cancel Canceller, auth *AuthManager, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	l := logger.With().Str("component", "api").Logger()
	return &Server{tasks: tasks, resume: resume, cancel: cancel, auth: auth, opts: opts, log: &l}
}

// Routes builds the router. Streaming routes are kept out of the timeout
// group; their lifetime is the client's connection.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/tasks", func(r chi.Router) {
		r.Use(s.auth.Principal)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(s.opts.RequestTimeout))
			r.Get("/active", s.handleActive)
			r.Post("/status", s.handleStatus)
			r.Post("/cancel", s.handleCancel)
		})

		r.Post("/", s.handleSubmit)
		r.Post("/resume", s.handleResume)
	})
	return r
}
