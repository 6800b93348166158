package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	redis_adapter "github.com/user/lumos/internal/adapter/redis"
	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/internal/settings"
	"github.com/user/lumos/pkg/config"
)

// NewSettingsStore opens the configured settings backend.
func NewSettingsStore(ctx context.Context, cfg *config.Config, l *zap.Logger) (repository.SettingsRepository, func(), error) {
	switch cfg.SettingsBackend {
	case config.SettingsBackendRedis:
		rdb := NewRedisClient(cfg)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return redis_adapter.NewSettingsRepo(rdb, l), func() { _ = rdb.Close() }, nil
	default:
		store := settings.NewFileStore(cfg.SettingsFile, l)
		return store, func() { _ = store.Close() }, nil
	}
}
