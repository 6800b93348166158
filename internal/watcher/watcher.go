// Package watcher turns raw tree mutations into image events.
package watcher

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/user/lumos/internal/dom"
	"github.com/user/lumos/pkg/logger"
)

// ErrAlreadyStarted is returned by Start on a running watcher.
var ErrAlreadyStarted = errors.New("watcher already started")

// Handlers receive image events. OnImageAdded is required.
type Handlers struct {
	OnImageAdded   func(dom.Element)
	OnImageRemoved func(dom.Element)
	// OnImageSrcChanged falls back to OnImageAdded when nil.
	OnImageSrcChanged func(dom.Element)
}

// Watcher observes a document for added, removed and re-sourced images.
type Watcher struct {
	handlers Handlers
	logger   *zap.Logger

	mu         sync.Mutex
	disconnect func()
}

// New creates a stopped watcher.
func New(h Handlers, l *zap.Logger) *Watcher {
	return &Watcher{handlers: h, logger: logger.OrNop(l)}
}

// Start subscribes to src with a src attribute filter.
func (w *Watcher) Start(src dom.MutationSource) error {
	if w.handlers.OnImageAdded == nil {
		return errors.New("watcher: OnImageAdded handler is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disconnect != nil {
		return ErrAlreadyStarted
	}
	disconnect, err := src.Observe(dom.ObserveOptions{AttributeFilter: []string{"src"}}, w.handle)
	if err != nil {
		return err
	}
	w.disconnect = disconnect
	w.logger.Debug("Mutation watcher started")
	return nil
}

// Stop disconnects from the source. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	disconnect := w.disconnect
	w.disconnect = nil
	w.mu.Unlock()
	if disconnect != nil {
		disconnect()
		w.logger.Debug("Mutation watcher stopped")
	}
}

// Running reports whether the watcher is subscribed.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disconnect != nil
}

func (w *Watcher) handle(records []dom.MutationRecord) {
	for _, rec := range records {
		switch rec.Kind {
		case dom.MutationChildList:
			for _, n := range rec.Added {
				forEachImage(n, w.handlers.OnImageAdded)
			}
			if w.handlers.OnImageRemoved != nil {
				for _, n := range rec.Removed {
					forEachImage(n, w.handlers.OnImageRemoved)
				}
			}
		case dom.MutationAttributes:
			if rec.AttributeName != "src" || !isImage(rec.Target) {
				continue
			}
			if w.handlers.OnImageSrcChanged != nil {
				w.handlers.OnImageSrcChanged(rec.Target)
			} else {
				w.handlers.OnImageAdded(rec.Target)
			}
		}
	}
}

// forEachImage calls fn for n when it is an image and for every image
// below it.
func forEachImage(n dom.Element, fn func(dom.Element)) {
	if n == nil {
		return
	}
	if isImage(n) {
		fn(n)
	}
	for _, img := range n.Descendants("img") {
		fn(img)
	}
}

func isImage(el dom.Element) bool {
	return el != nil && strings.EqualFold(el.TagName(), "img")
}
