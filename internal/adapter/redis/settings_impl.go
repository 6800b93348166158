package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/internal/settings"
	"github.com/user/lumos/pkg/logger"
)

const (
	settingsKey     = "lumos:settings"
	settingsChannel = "lumos:settings:changed"

	fieldEnabled     = "enabled"
	fieldAutoAnalyze = "autoAnalyze"
)

var _ repository.SettingsRepository = (*SettingsRepoImpl)(nil)

// SettingsRepoImpl keeps settings in a Redis hash and fans changes out over
// pub/sub, so every process sharing the server sees every Save.
type SettingsRepoImpl struct {
	client *redis.Client
	logger *zap.Logger
	subs   *settings.Subscribers

	mu     sync.Mutex
	refs   int
	pubsub *redis.PubSub
}

// NewSettingsRepo creates a new instance of SettingsRepoImpl.
func NewSettingsRepo(client *redis.Client, l *zap.Logger) *SettingsRepoImpl {
	return &SettingsRepoImpl{client: client, logger: logger.OrNop(l), subs: settings.NewSubscribers()}
}

// Load reads the hash. Missing or unparsable fields take their defaults.
func (r *SettingsRepoImpl) Load(ctx context.Context) (entity.Settings, error) {
	vals, err := r.client.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return entity.DefaultSettings, fmt.Errorf("load settings: %w", err)
	}
	s := entity.DefaultSettings
	s.Enabled = parseBool(vals[fieldEnabled], s.Enabled)
	s.AutoAnalyze = parseBool(vals[fieldAutoAnalyze], s.AutoAnalyze)
	return s, nil
}

// Save writes both fields and publishes the delta when something changed.
func (r *SettingsRepoImpl) Save(ctx context.Context, next entity.Settings) error {
	prev, err := r.Load(ctx)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, settingsKey,
		fieldEnabled, strconv.FormatBool(next.Enabled),
		fieldAutoAnalyze, strconv.FormatBool(next.AutoAnalyze),
	).Err(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	delta := prev.Diff(next)
	if delta.Empty() {
		return nil
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, settingsChannel, payload).Err()
}

// Subscribe delivers published deltas. The channel subscription is opened
// with the first subscriber and closed with the last.
func (r *SettingsRepoImpl) Subscribe(fn func(entity.SettingsDelta)) func() {
	remove := r.subs.Add(fn)

	r.mu.Lock()
	r.refs++
	if r.pubsub == nil {
		r.pubsub = r.client.Subscribe(context.Background(), settingsChannel)
		go r.listen(r.pubsub)
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			remove()
			r.mu.Lock()
			defer r.mu.Unlock()
			r.refs--
			if r.refs == 0 && r.pubsub != nil {
				if err := r.pubsub.Close(); err != nil {
					r.logger.Warn("Failed to close settings subscription", zap.Error(err))
				}
				r.pubsub = nil
			}
		})
	}
}

func (r *SettingsRepoImpl) listen(ps *redis.PubSub) {
	for msg := range ps.Channel() {
		var delta entity.SettingsDelta
		if err := json.Unmarshal([]byte(msg.Payload), &delta); err != nil {
			r.logger.Warn("Ignoring malformed settings change", zap.String("payload", msg.Payload), zap.Error(err))
			continue
		}
		if !delta.Empty() {
			r.subs.Notify(delta)
		}
	}
}

func parseBool(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
