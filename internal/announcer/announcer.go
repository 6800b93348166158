// Package announcer queues status messages into a polite live region.
package announcer

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/lumos/internal/dom"
	"github.com/user/lumos/internal/eventloop"
	"github.com/user/lumos/pkg/logger"
)

// Messages announced by the pipeline.
const (
	MessageAnalyzing = "상품 상세 이미지를 분석 중입니다"
	MessageCompleted = "이미지 분석이 완료되었습니다"
	MessageFailed    = "이미지 분석에 실패했습니다"
)

// Defaults for Config.
const (
	DefaultDedupeWindow = 1200 * time.Millisecond
	DefaultMinSpacing   = 400 * time.Millisecond
	DefaultSwapDelay    = 50 * time.Millisecond
)

// RegionFactory creates the live region. dom.Document satisfies it.
type RegionFactory interface {
	CreateLiveRegion() (dom.LiveRegion, error)
}

// Config tunes pacing.
type Config struct {
	DedupeWindow time.Duration
	MinSpacing   time.Duration
	// SwapDelay separates clearing the region from writing the message so
	// screen readers notice a repeated message.
	SwapDelay time.Duration
}

// Options control a single announcement.
type Options struct {
	// DedupeKey groups messages; the normalized message is used when empty.
	DedupeKey string
	// Force bypasses suppression.
	Force bool
	// DedupeWindow overrides Config.DedupeWindow when positive.
	DedupeWindow time.Duration
}

type item struct {
	key string
	msg string
}

// Announcer is not safe for concurrent use; call it from the event loop
// that backs its scheduler.
type Announcer struct {
	region dom.LiveRegion
	sched  eventloop.Scheduler
	cfg    Config
	logger *zap.Logger

	queue     []item
	queued    map[string]int
	announced map[string]time.Time
	lastAt    time.Time
	busy      bool
	timer     eventloop.Timer
	destroyed bool
}

// New creates the live region and returns an idle announcer.
func New(f RegionFactory, sched eventloop.Scheduler, cfg Config, l *zap.Logger) (*Announcer, error) {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	if cfg.MinSpacing < 0 {
		cfg.MinSpacing = 0
	} else if cfg.MinSpacing == 0 {
		cfg.MinSpacing = DefaultMinSpacing
	}
	if cfg.SwapDelay <= 0 {
		cfg.SwapDelay = DefaultSwapDelay
	}
	region, err := f.CreateLiveRegion()
	if err != nil {
		return nil, err
	}
	return &Announcer{
		region:    region,
		sched:     sched,
		cfg:       cfg,
		logger:    logger.OrNop(l),
		queued:    make(map[string]int),
		announced: make(map[string]time.Time),
	}, nil
}

// Announce queues message and reports whether it was accepted.
func (a *Announcer) Announce(message string, opts Options) bool {
	if a.destroyed {
		return false
	}
	msg := strings.Join(strings.Fields(message), " ")
	if msg == "" {
		return false
	}
	key := opts.DedupeKey
	if key == "" {
		key = msg
	}

	if !opts.Force {
		if a.queued[key] > 0 {
			return false
		}
		window := a.cfg.DedupeWindow
		if opts.DedupeWindow > 0 {
			window = opts.DedupeWindow
		}
		if at, ok := a.announced[key]; ok && a.sched.Now().Sub(at) < window {
			return false
		}
	}

	a.queue = append(a.queue, item{key: key, msg: msg})
	a.queued[key]++
	if !a.busy {
		a.drain()
	}
	return true
}

// Destroy cancels pending work and removes the live region. Later calls to
// Announce are ignored.
func (a *Announcer) Destroy() {
	if a.destroyed {
		return
	}
	a.destroyed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.queue = nil
	a.queued = map[string]int{}
	if err := a.region.Remove(); err != nil {
		a.logger.Warn("Failed to remove live region", zap.Error(err))
	}
}

// Pending returns the number of queued messages, including one in delivery.
func (a *Announcer) Pending() int {
	n := 0
	for _, c := range a.queued {
		n += c
	}
	return n
}

func (a *Announcer) drain() {
	if a.destroyed || len(a.queue) == 0 {
		a.busy = false
		return
	}
	a.busy = true

	var wait time.Duration
	if !a.lastAt.IsZero() {
		if elapsed := a.sched.Now().Sub(a.lastAt); elapsed < a.cfg.MinSpacing {
			wait = a.cfg.MinSpacing - elapsed
		}
	}
	if wait > 0 {
		a.timer = a.sched.AfterFunc(wait, a.deliver)
		return
	}
	a.deliver()
}

func (a *Announcer) deliver() {
	if a.destroyed || len(a.queue) == 0 {
		a.busy = false
		return
	}
	next := a.queue[0]
	a.queue = a.queue[1:]

	if err := a.region.SetText(""); err != nil {
		a.logger.Warn("Failed to clear live region", zap.Error(err))
	}
	a.timer = a.sched.AfterFunc(a.cfg.SwapDelay, func() {
		if a.destroyed {
			return
		}
		if err := a.region.SetText(next.msg); err != nil {
			a.logger.Warn("Failed to update live region", zap.Error(err))
		}
		now := a.sched.Now()
		a.lastAt = now
		a.announced[next.key] = now
		if a.queued[next.key]--; a.queued[next.key] <= 0 {
			delete(a.queued, next.key)
		}
		a.timer = nil
		a.drain()
	})
}
