package repository

import (
	"context"

	"github.com/user/lumos/internal/entity"
)

// SettingsRepository is the persisted configuration store shared with the
// settings UI.
type SettingsRepository interface {
	// Load returns the stored settings, with defaults for missing keys.
	Load(ctx context.Context) (entity.Settings, error)
	// Save writes all keys. The pipeline never calls it.
	Save(ctx context.Context, s entity.Settings) error
	// Subscribe delivers change notifications until the returned function
	// is called.
	Subscribe(fn func(entity.SettingsDelta)) (unsubscribe func())
}
