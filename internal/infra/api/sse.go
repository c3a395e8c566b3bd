package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"taskstream/internal/stream"
)

// sseWriter serializes writes to one event-stream response. Frames come from
// the stream goroutine and keep-alives from a ticker, so every write locks.
type sseWriter struct {
	mu      sync.Mutex
	enc     *stream.Encoder
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	f, _ := w.(http.Flusher)
	s := &sseWriter{enc: stream.NewEncoder(w), flusher: f}
	s.flush()
	return s
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *sseWriter) frame(f stream.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.EncodeFrame(f); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) event(ev stream.Event) error {
	return s.frame(stream.Frame{Events: []stream.Event{ev}})
}

func (s *sseWriter) done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Done(); err != nil {
		return err
	}
	s.flush()
	return nil
}

// keepAlive writes comment lines every d until ctx ends.
func (s *sseWriter) keepAlive(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			err := s.enc.Comment("keep-alive")
			s.flush()
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
