package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"taskstream/internal/infra/metrics"
)

var (
	ErrNilTask   = errors.New("nil task")
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	once sync.Once
	n    int
	log  *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{jobs: make(chan Task, workers*4), quit: make(chan struct{}), n: workers, log: &l}
}

func (p *Pool) Size() int { return p.n }

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					p.drain(ctx)
					return
				case <-p.quit:
					stopped, cancel := context.WithCancel(ctx)
					cancel()
					p.drain(stopped)
					return
				case task := <-p.jobs:
					p.run(ctx, id, task)
				}
			}
		}(i)
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	if task == nil {
		return
	}
	if err := task(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn().Err(err).Int("worker", id).Msg("task error")
	}
}

// drain runs whatever is still queued with a cancelled ctx, so tasks see the
// shutdown and their own cleanup runs.
func (p *Pool) drain(cancelled context.Context) {
	for {
		select {
		case task := <-p.jobs:
			p.run(cancelled, -1, task)
		default:
			return
		}
	}
}

// Stop ends the workers after their current task. Tasks still queued run
// once more with a cancelled context.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit queues task, waiting for room until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	select {
	case <-p.quit:
		return ErrStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.jobs <- task:
		return nil
	case <-p.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues task or fails fast with ErrQueueFull.
func (p *Pool) TrySubmit(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		metrics.IncWorkerQueueDrop()
		return ErrQueueFull
	}
}
