package settings

import (
	"context"
	"sort"
	"sync"

	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/internal/repository"
)

var _ repository.SettingsRepository = (*MemoryStore)(nil)

// MemoryStore holds settings in memory. Save notifies subscribers
// synchronously.
type MemoryStore struct {
	mu      sync.Mutex
	current entity.Settings
	subs    *Subscribers
}

// NewMemoryStore starts from initial.
func NewMemoryStore(initial entity.Settings) *MemoryStore {
	return &MemoryStore{current: initial, subs: NewSubscribers()}
}

func (s *MemoryStore) Load(context.Context) (entity.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *MemoryStore) Save(_ context.Context, next entity.Settings) error {
	s.mu.Lock()
	delta := s.current.Diff(next)
	s.current = next
	s.mu.Unlock()
	if !delta.Empty() {
		s.subs.Notify(delta)
	}
	return nil
}

func (s *MemoryStore) Subscribe(fn func(entity.SettingsDelta)) func() {
	return s.subs.Add(fn)
}

// Subscribers is a registry of change callbacks shared by the stores.
type Subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(entity.SettingsDelta)
}

// NewSubscribers returns an empty registry.
func NewSubscribers() *Subscribers {
	return &Subscribers{fns: make(map[int]func(entity.SettingsDelta))}
}

// Add registers fn and returns an idempotent unsubscribe.
func (s *Subscribers) Add(fn func(entity.SettingsDelta)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.fns[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

// Notify calls every callback in registration order.
func (s *Subscribers) Notify(d entity.SettingsDelta) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(entity.SettingsDelta), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(d)
	}
}
