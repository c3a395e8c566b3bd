package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskstream/internal/domain/model"
	"taskstream/internal/infra/metrics"
	"taskstream/internal/infra/worker"
)

// ActiveLister lists non-terminal records across all owners.
type ActiveLister interface {
	ListAllActive(ctx context.Context, limit int) ([]*model.TaskRecord, error)
}

// Refresher reconciles one record against the upstream.
type Refresher interface {
	Refresh(ctx context.Context, jobID string) (*model.TaskRecord, error)
}

// TaskSweeper periodically reconciles records nobody is watching, so jobs
// whose clients never came back still reach a terminal status.
type TaskSweeper struct {
	records  ActiveLister
	refresh  Refresher
	pool     *worker.Pool
	interval time.Duration
	// idleFor skips records touched recently; a live attachment is probably
	// keeping them current.
	idleFor time.Duration
	batch   int
	now     func() time.Time
	log     *zerolog.Logger
}

func NewTaskSweeper(records ActiveLister, refresh Refresher, pool *worker.Pool, interval time.Duration, batch int, logger *zerolog.Logger) *TaskSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	l := logger.With().Str("component", "TaskSweeper").Logger()
	return &TaskSweeper{
		records:  records,
		refresh:  refresh,
		pool:     pool,
		interval: interval,
		idleFor:  interval,
		batch:    batch,
		now:      time.Now,
		log:      &l,
	}
}

func (w *TaskSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Int("batch", w.batch).Int("workers", w.pool.Size()).Msg("Starting task sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping task sweeper")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep runs one pass and returns how many records changed status.
func (w *TaskSweeper) Sweep(ctx context.Context) (int, error) {
	start := w.now()
	active, err := w.records.ListAllActive(ctx, w.batch)
	if err != nil {
		metrics.ObserveSweep(time.Since(start), err)
		return 0, err
	}

	var (
		mu       sync.Mutex
		advanced int
		wg       sync.WaitGroup
	)
	cutoff := start.Add(-w.idleFor)
	for _, rec := range active {
		if rec.UpdatedAt.After(cutoff) {
			metrics.IncSweepRecord("skipped")
			continue
		}
		rec := rec
		wg.Add(1)
		err := w.pool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			next, err := w.refresh.Refresh(ctx, rec.JobID)
			if err != nil {
				metrics.IncSweepRecord("error")
				return err
			}
			if next.Status == rec.Status {
				metrics.IncSweepRecord("unchanged")
				return nil
			}
			metrics.IncSweepRecord("advanced")
			mu.Lock()
			advanced++
			mu.Unlock()
			return nil
		})
		if err != nil {
			wg.Done()
			waitOrDone(ctx, &wg)
			metrics.ObserveSweep(time.Since(start), err)
			mu.Lock()
			defer mu.Unlock()
			return advanced, err
		}
	}
	if err := waitOrDone(ctx, &wg); err != nil {
		metrics.ObserveSweep(time.Since(start), err)
		mu.Lock()
		defer mu.Unlock()
		return advanced, err
	}

	metrics.ObserveSweep(time.Since(start), nil)
	if advanced > 0 {
		w.log.Info().Int("advanced", advanced).Int("visited", len(active)).Msg("sweep reconciled records")
	}
	return advanced, nil
}

// waitOrDone waits for wg unless ctx ends first. Tasks still queued in the
// pool are not waited for after shutdown.
func waitOrDone(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
