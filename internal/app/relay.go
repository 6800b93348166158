// Package app wires configuration into the relay, the settings store and
// page sessions. Both binaries build on it.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/lumos/internal/adapter/postgres"
	redis_adapter "github.com/user/lumos/internal/adapter/redis"
	"github.com/user/lumos/internal/analysis"
	"github.com/user/lumos/internal/delivery/http/handler"
	"github.com/user/lumos/internal/relay"
	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/internal/usecase"
	"github.com/user/lumos/pkg/config"
	"github.com/user/lumos/pkg/logger"
)

// Relay is the relay use case plus the connections it owns.
type Relay struct {
	UseCase usecase.Relay
	// Checks are the dependencies reported by the health endpoint.
	Checks  map[string]handler.Pinger
	closers []func()
}

// Close releases the connections in reverse order of opening.
func (r *Relay) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// NewRelay builds the analyzer for cfg, wrapped in the Redis cache when
// REDIS_ADDR is set and logged to PostgreSQL when POSTGRES_URL is set.
func NewRelay(ctx context.Context, cfg *config.Config, l *zap.Logger) (*Relay, error) {
	l = logger.OrNop(l)
	r := &Relay{Checks: make(map[string]handler.Pinger)}

	analyzer, err := analysis.New(cfg, l)
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		rdb := NewRedisClient(cfg)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		r.closers = append(r.closers, func() { _ = rdb.Close() })
		r.Checks["redis"] = redisPinger{client: rdb}
		analyzer = analysis.NewCachedAnalyzer(analyzer, redis_adapter.NewAnalysisCacheRepo(rdb), cfg.CacheTTL(), l)
		l.Info("Redis connection established, analysis cache enabled", zap.Duration("ttl", cfg.CacheTTL()))
	}

	var logRepo repository.AnalysisLogRepository
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		r.closers = append(r.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		repo := postgres.NewAnalysisLogRepo(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		r.Checks["postgres"] = pool
		logRepo = repo
		l.Info("PostgreSQL connection pool established")
	}

	r.UseCase = usecase.NewRelayUseCase(analyzer, analysis.OptionsFrom(cfg), logRepo, l)
	return r, nil
}

// NewRedisClient returns a client for the configured server.
func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewMessenger connects to RELAY_URL, or runs the relay in process when it
// is empty. The returned func releases what was opened.
func NewMessenger(ctx context.Context, cfg *config.Config, l *zap.Logger) (*relay.Messenger, func(), error) {
	l = logger.OrNop(l)
	if cfg.RelayURL != "" {
		l.Info("Using remote relay", zap.String("relay_url", cfg.RelayURL))
		return relay.NewMessenger(relay.NewHTTPChannel(cfg.RelayURL, nil), l), func() {}, nil
	}
	r, err := NewRelay(ctx, cfg, l)
	if err != nil {
		return nil, nil, err
	}
	return relay.NewMessenger(relay.NewLocalChannel(r.UseCase), l), r.Close, nil
}
