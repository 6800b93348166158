// Package settings implements the persisted on/off switches read by the
// page pipeline.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/pkg/logger"
)

const (
	keyEnabled     = "enabled"
	keyAutoAnalyze = "autoAnalyze"
)

var _ repository.SettingsRepository = (*FileStore)(nil)

// FileStore keeps settings in a YAML (or JSON/TOML, by extension) file and
// notifies subscribers when the file changes on disk. The file watch runs
// while at least one subscriber is registered.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	current entity.Settings
	subs    *Subscribers
	active  int
	watcher *fsnotify.Watcher
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string, l *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger.OrNop(l), current: entity.DefaultSettings, subs: NewSubscribers()}
}

// Load reads the file. A missing file yields the defaults.
func (s *FileStore) Load(_ context.Context) (entity.Settings, error) {
	settings, err := readFile(s.path)
	if err != nil {
		return entity.Settings{}, err
	}
	s.mu.Lock()
	s.current = settings
	s.mu.Unlock()
	return settings, nil
}

// Save writes every key under its exact name and notifies in-process
// subscribers.
func (s *FileStore) Save(_ context.Context, settings entity.Settings) error {
	data, err := encode(s.path, settings)
	if err != nil {
		return err
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	s.update(settings)
	return nil
}

// writeAtomic replaces path in one rename so the watch never reads a
// partially written file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lumos-settings-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Subscribe registers fn. The first subscriber starts the file watch and
// the last unsubscribe stops it.
func (s *FileStore) Subscribe(fn func(entity.SettingsDelta)) func() {
	remove := s.subs.Add(fn)

	s.mu.Lock()
	s.active++
	if s.watcher == nil {
		s.watcher = s.watch()
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			remove()
			s.mu.Lock()
			if s.active > 0 {
				s.active--
			}
			var w *fsnotify.Watcher
			if s.active == 0 {
				w, s.watcher = s.watcher, nil
			}
			s.mu.Unlock()
			if w != nil {
				_ = w.Close()
			}
		})
	}
}

// Close stops the file watch regardless of subscribers.
func (s *FileStore) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.active = 0
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// watch observes the file's directory so editors that replace the file
// are seen too. It returns nil when the watch cannot be set up.
func (s *FileStore) watch() *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("Cannot watch settings file", zap.String("path", s.path), zap.Error(err))
		return nil
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		s.logger.Warn("Cannot watch settings file", zap.String("path", s.path), zap.Error(err))
		return nil
	}
	go s.watchLoop(w)
	s.logger.Debug("Watching settings file", zap.String("path", s.path))
	return w
}

func (s *FileStore) watchLoop(w *fsnotify.Watcher) {
	target := filepath.Clean(s.path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			settings, err := readFile(s.path)
			if err != nil {
				s.logger.Warn("Ignoring unreadable settings file", zap.String("path", ev.Name), zap.Error(err))
				continue
			}
			s.update(settings)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Settings file watch error", zap.String("path", s.path), zap.Error(err))
		}
	}
}

// update records next and notifies subscribers of what changed.
func (s *FileStore) update(next entity.Settings) {
	s.mu.Lock()
	delta := s.current.Diff(next)
	s.current = next
	s.mu.Unlock()
	if !delta.Empty() {
		s.subs.Notify(delta)
	}
}

func readFile(path string) (entity.Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault(keyEnabled, entity.DefaultSettings.Enabled)
	v.SetDefault(keyAutoAnalyze, entity.DefaultSettings.AutoAnalyze)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entity.DefaultSettings, nil
		}
		return entity.Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	var settings entity.Settings
	if err := v.Unmarshal(&settings); err != nil {
		return entity.Settings{}, fmt.Errorf("decode settings %s: %w", path, err)
	}
	return settings, nil
}

// encode renders settings in the format the file extension names.
func encode(path string, settings entity.Settings) ([]byte, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Marshal(settings)
	case ".json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case ".toml":
		return toml.Marshal(settings)
	default:
		return nil, fmt.Errorf("settings file %s: unsupported format %q", path, ext)
	}
}
