// Package state holds the per-resource state machine and the element
// binding table. It does no I/O and is not safe for concurrent use: the
// pipeline touches it only from its event loop.
package state

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/user/lumos/internal/dom"
)

// Status is a resource's position in the analysis lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ErrInvalidTransition is returned when a mutator is called from a state
// that does not allow it.
var ErrInvalidTransition = errors.New("invalid state transition")

// ImageState is the record for one image URL. Values handed out by the
// store are copies.
type ImageState struct {
	URL       string
	Status    Status
	AltText   string // only when completed
	LastError string // only when error
	UpdatedAt time.Time
	// Element is the element currently bound to the URL, zero when none.
	// It is a handle and does not keep the element alive.
	Element dom.ElementID
}

// Store owns the URL→state map and the element→URL binding table.
type Store struct {
	states   map[string]*ImageState
	bindings map[dom.ElementID]string
	now      func() time.Time
	last     time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		states:   make(map[string]*ImageState),
		bindings: make(map[dom.ElementID]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the state for url.
func (s *Store) Get(url string) (ImageState, bool) {
	st, ok := s.states[url]
	if !ok {
		return ImageState{}, false
	}
	return *st, true
}

// CachedAltText returns the accepted description for url when its analysis
// completed.
func (s *Store) CachedAltText(url string) (string, bool) {
	st, ok := s.states[url]
	if !ok || st.Status != StatusCompleted {
		return "", false
	}
	return st.AltText, true
}

// MarkPending starts (or restarts after an error) the lifecycle of url.
func (s *Store) MarkPending(url string, el dom.ElementID) (ImageState, error) {
	return s.transition(url, StatusPending, el, func(st *ImageState) {
		st.AltText = ""
		st.LastError = ""
	}, "", StatusPending, StatusError)
}

// MarkAnalyzing records that a request for url is outstanding.
func (s *Store) MarkAnalyzing(url string, el dom.ElementID) (ImageState, error) {
	return s.transition(url, StatusAnalyzing, el, func(st *ImageState) {
		st.AltText = ""
		st.LastError = ""
	}, StatusPending)
}

// MarkCompleted stores the accepted description for url.
func (s *Store) MarkCompleted(url, altText string, el dom.ElementID) (ImageState, error) {
	return s.transition(url, StatusCompleted, el, func(st *ImageState) {
		st.AltText = altText
		st.LastError = ""
	}, StatusAnalyzing)
}

// MarkError records a failed attempt for url.
func (s *Store) MarkError(url, message string, el dom.ElementID) (ImageState, error) {
	return s.transition(url, StatusError, el, func(st *ImageState) {
		st.AltText = ""
		st.LastError = message
	}, StatusAnalyzing)
}

// transition applies a state change when the current status is one of
// from. The empty status in from admits a URL the store has never seen.
func (s *Store) transition(url string, to Status, el dom.ElementID, apply func(*ImageState), from ...Status) (ImageState, error) {
	if url == "" {
		return ImageState{}, fmt.Errorf("%w: empty url", ErrInvalidTransition)
	}
	cur, exists := s.states[url]
	var current Status
	if exists {
		current = cur.Status
	}
	if !allowed(current, from) {
		return ImageState{}, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, describe(current), to, url)
	}

	next := ImageState{URL: url}
	if exists {
		next = *cur
	}
	next.Status = to
	apply(&next)
	if el != 0 {
		next.Element = el
	}
	next.UpdatedAt = s.stamp()
	s.states[url] = &next
	return next, nil
}

func allowed(current Status, from []Status) bool {
	for _, f := range from {
		if f == current {
			return true
		}
	}
	return false
}

func describe(st Status) string {
	if st == "" {
		return "none"
	}
	return string(st)
}

// stamp returns a time strictly after every earlier stamp.
func (s *Store) stamp() time.Time {
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

// Bind associates el with url and returns the URL el was previously bound
// to ("" when none). The previous identity is unbound first.
func (s *Store) Bind(el dom.ElementID, url string) string {
	previous := s.bindings[el]
	if previous != "" && previous != url {
		s.clearElement(previous, el)
	}
	s.bindings[el] = url
	if st, ok := s.states[url]; ok && st.Element != el {
		st.Element = el
	}
	return previous
}

// Unbind drops the binding for el and returns the URL it was bound to.
func (s *Store) Unbind(el dom.ElementID) string {
	url, ok := s.bindings[el]
	if !ok {
		return ""
	}
	delete(s.bindings, el)
	s.clearElement(url, el)
	return url
}

// URLFor returns the URL el is bound to.
func (s *Store) URLFor(el dom.ElementID) (string, bool) {
	url, ok := s.bindings[el]
	return url, ok
}

func (s *Store) clearElement(url string, el dom.ElementID) {
	if st, ok := s.states[url]; ok && st.Element == el {
		st.Element = 0
	}
}

// Len returns the number of known URLs.
func (s *Store) Len() int {
	return len(s.states)
}

// Snapshot returns copies of all states ordered by URL.
func (s *Store) Snapshot() []ImageState {
	out := make([]ImageState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
