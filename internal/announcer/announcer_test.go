package announcer

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/lumos/internal/dom"
	"github.com/user/lumos/internal/eventloop"
)

// fakeClock runs timers synchronously when advanced.
type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) eventloop.Timer {
	t := &fakeTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	end := c.now.Add(d)
	for {
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var due *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(end) {
				due = t
				break
			}
		}
		if due == nil {
			break
		}
		c.now = due.at
		due.fired = true
		due.fn()
	}
	c.now = end
}

func (c *fakeClock) active() int {
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeRegion records every non-empty text the region displayed.
type fakeRegion struct {
	text    string
	shown   []string
	removed bool
}

func (r *fakeRegion) SetText(s string) error {
	r.text = s
	if s != "" {
		r.shown = append(r.shown, s)
	}
	return nil
}

func (r *fakeRegion) Text() string { return r.text }

func (r *fakeRegion) Remove() error {
	r.removed = true
	return nil
}

type factory struct{ region *fakeRegion }

func (f factory) CreateLiveRegion() (dom.LiveRegion, error) { return f.region, nil }

func setup(t *testing.T) (*Announcer, *fakeClock, *fakeRegion) {
	t.Helper()
	clock := newClock()
	region := &fakeRegion{}
	a, err := New(factory{region}, clock, Config{}, nil)
	require.NoError(t, err)
	return a, clock, region
}

func TestAnnounceClearsThenSets(t *testing.T) {
	a, clock, region := setup(t)

	require.True(t, a.Announce("  분석   중  ", Options{}))
	assert.Equal(t, "", region.Text())

	clock.Advance(DefaultSwapDelay)
	assert.Equal(t, "분석 중", region.Text())
	assert.Zero(t, a.Pending())
}

func TestEmptyMessageDropped(t *testing.T) {
	a, clock, region := setup(t)
	assert.False(t, a.Announce(" \n ", Options{}))
	clock.Advance(time.Second)
	assert.Empty(t, region.shown)
}

func TestDuplicateWithinWindowSuppressed(t *testing.T) {
	a, clock, region := setup(t)

	assert.True(t, a.Announce("X", Options{DedupeKey: "k"}))
	assert.False(t, a.Announce("X", Options{DedupeKey: "k"}), "queued key")
	clock.Advance(100 * time.Millisecond)
	assert.False(t, a.Announce("X", Options{DedupeKey: "k"}), "inside window")
	clock.Advance(2 * time.Second)

	assert.Equal(t, []string{"X"}, region.shown)

	assert.True(t, a.Announce("X", Options{DedupeKey: "k"}), "window elapsed")
	clock.Advance(time.Second)
	assert.Equal(t, []string{"X", "X"}, region.shown)
}

func TestForceBypassesSuppression(t *testing.T) {
	a, clock, region := setup(t)

	assert.True(t, a.Announce("X", Options{}))
	assert.True(t, a.Announce("X", Options{Force: true}))
	clock.Advance(2 * time.Second)

	assert.Equal(t, []string{"X", "X"}, region.shown)
}

func TestCustomDedupeWindow(t *testing.T) {
	a, clock, region := setup(t)

	a.Announce("X", Options{})
	clock.Advance(DefaultSwapDelay + 500*time.Millisecond)
	assert.True(t, a.Announce("X", Options{DedupeWindow: 100 * time.Millisecond}))
	clock.Advance(time.Second)

	assert.Len(t, region.shown, 2)
}

func TestMinimumSpacing(t *testing.T) {
	a, clock, region := setup(t)

	a.Announce("one", Options{})
	a.Announce("two", Options{})
	a.Announce("three", Options{})

	clock.Advance(DefaultSwapDelay)
	assert.Equal(t, []string{"one"}, region.shown)

	clock.Advance(DefaultMinSpacing - time.Millisecond)
	assert.Equal(t, []string{"one"}, region.shown)

	clock.Advance(time.Millisecond + DefaultSwapDelay)
	assert.Equal(t, []string{"one", "two"}, region.shown)

	clock.Advance(DefaultMinSpacing + DefaultSwapDelay)
	assert.Equal(t, []string{"one", "two", "three"}, region.shown)
}

func TestDestroy(t *testing.T) {
	a, clock, region := setup(t)

	a.Announce("one", Options{})
	a.Announce("two", Options{})
	a.Destroy()
	a.Destroy()

	assert.True(t, region.removed)
	assert.Zero(t, clock.active())
	clock.Advance(5 * time.Second)
	assert.Empty(t, region.shown)
	assert.False(t, a.Announce("three", Options{}))
}
