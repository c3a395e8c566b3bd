package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"taskstream/internal/config"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/domain/ports/repository"
	"taskstream/internal/infra/adapters/upstream"
	"taskstream/internal/infra/db/memory"
	pg "taskstream/internal/infra/db/postgres"
	"taskstream/internal/infra/db/sqlite"
	"taskstream/internal/infra/metrics"
	red "taskstream/internal/infra/redis"
	"taskstream/internal/infra/security"
	"taskstream/internal/usecase"
)

type deps struct {
	records   repository.TaskRecordRepository
	upstream  adapter.UpstreamJobs
	limiter   usecase.Limiter
	locker    usecase.Locker
	poolStats func(ctx context.Context)
	closers   []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func wire(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*deps, error) {
	d := &deps{}

	// ---- Redis (optional unless it is the store) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		redisClient = c
		d.closers = append(d.closers, func() { _ = c.Close() })
		d.limiter = red.NewRateLimiter(c)
		d.locker = red.NewLocker(c)
	} else {
		d.limiter = memory.NewRateLimiter()
	}

	// ---- Record store ----
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		if err := pg.EnsureSchema(ctx, pool); err != nil {
			d.close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		d.records = pg.NewTaskRecordRepo(pool, pg.NewTxManager(pool))
		d.poolStats = func(ctx context.Context) { reportPoolStats(ctx, pool) }
	case "sqlite":
		repo, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		d.closers = append(d.closers, func() { _ = repo.Close() })
		d.records = repo
	case "redis":
		d.records = red.NewTaskRecordRepo(redisClient, cfg.Redis.TTL)
	default:
		logger.Warn().Msg("store.driver=memory: task records do not survive a restart")
		d.records = memory.NewTaskRecordRepo()
	}

	if cfg.Security.EncryptionKey != "" {
		enc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("encryption: %w", err)
		}
		d.records = security.NewEncryptedRepo(d.records, enc)
	}

	// ---- Upstream providers ----
	up, err := buildUpstream(ctx, cfg.Upstream)
	if err != nil {
		d.close()
		return nil, err
	}
	d.upstream = up
	return d, nil
}

// buildUpstream registers every provider that has credentials, so records
// created under a previous default stay reconcilable.
func buildUpstream(ctx context.Context, cfg config.UpstreamConfig) (adapter.UpstreamJobs, error) {
	providers := map[string]adapter.UpstreamJobs{
		"simulated": upstream.NewSimulated(2*time.Second, 300*time.Millisecond),
	}
	if cfg.OpenAIKey != "" {
		oa, err := upstream.NewOpenAIResponses(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		providers["openai"] = oa
	}
	if cfg.GeminiKey != "" {
		gm, err := upstream.NewGeminiBatch(ctx, cfg.GeminiKey, cfg.GeminiURL, cfg.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		providers["gemini"] = gm
	}
	for name, p := range providers {
		providers[name] = upstream.NewLimited(upstream.NewInstrumented(p), cfg.ConcurrentLimit)
	}
	return upstream.NewRouter(cfg.Provider, providers, nil), nil
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := pool.Stat()
			metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
		}
	}
}
