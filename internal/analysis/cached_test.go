package analysis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/lumos/internal/entity"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func (m *memoryCache) Get(_ context.Context, url string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[url]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, url, alt string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]string{}
	}
	m.data[url] = alt
	return nil
}

type countingAnalyzer struct {
	calls   atomic.Int32
	ctxErrs atomic.Int32
	started chan struct{}
	release chan struct{}
	source  entity.Source
	err     error
}

func (c *countingAnalyzer) Analyze(ctx context.Context, req entity.AnalyzeRequest, _ Options) (*entity.AnalyzeResult, error) {
	if c.calls.Add(1) == 1 && c.started != nil {
		close(c.started)
	}
	if c.release != nil {
		<-c.release
	}
	if ctx.Err() != nil {
		c.ctxErrs.Add(1)
	}
	if c.err != nil {
		return nil, c.err
	}
	src := c.source
	if src == "" {
		src = entity.SourceAPI
	}
	return &entity.AnalyzeResult{AltText: "alt for " + req.ImageURL, Source: src}, nil
}

func TestCachedAnalyzerHitSkipsUpstream(t *testing.T) {
	cache := &memoryCache{data: map[string]string{req.ImageURL: "cached"}}
	up := &countingAnalyzer{}
	c := NewCachedAnalyzer(up, cache, time.Hour, nil)

	res, err := c.Analyze(context.Background(), req, DefaultOptions)
	require.NoError(t, err)
	assert.Equal(t, "cached", res.AltText)
	assert.Zero(t, up.calls.Load())
}

func TestCachedAnalyzerStoresAPIResults(t *testing.T) {
	cache := &memoryCache{}
	up := &countingAnalyzer{}
	c := NewCachedAnalyzer(up, cache, time.Hour, nil)

	_, err := c.Analyze(context.Background(), req, DefaultOptions)
	require.NoError(t, err)
	_, err = c.Analyze(context.Background(), req, DefaultOptions)
	require.NoError(t, err)

	assert.EqualValues(t, 1, up.calls.Load())
	assert.Equal(t, "alt for "+req.ImageURL, cache.data[req.ImageURL])
}

func TestCachedAnalyzerSkipsMockResults(t *testing.T) {
	cache := &memoryCache{}
	c := NewCachedAnalyzer(&countingAnalyzer{source: entity.SourceMock}, cache, time.Hour, nil)

	_, err := c.Analyze(context.Background(), req, DefaultOptions)
	require.NoError(t, err)
	assert.Empty(t, cache.data)
}

func TestCachedAnalyzerCoalescesConcurrentCalls(t *testing.T) {
	up := &countingAnalyzer{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedAnalyzer(up, nil, time.Hour, nil)

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Analyze(context.Background(), req, DefaultOptions)
			if assert.NoError(t, err) {
				results[i] = res.AltText
			}
		}(i)
	}
	<-up.started
	time.Sleep(20 * time.Millisecond)
	close(up.release)
	wg.Wait()

	assert.EqualValues(t, 1, up.calls.Load())
	for _, r := range results {
		assert.Equal(t, "alt for "+req.ImageURL, r)
	}
}

func TestCachedAnalyzerCancelledCallerDoesNotFailOthers(t *testing.T) {
	up := &countingAnalyzer{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedAnalyzer(up, nil, time.Hour, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Analyze(firstCtx, req, DefaultOptions)
		firstErr <- err
	}()
	<-up.started

	type outcome struct {
		res *entity.AnalyzeResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := c.Analyze(context.Background(), req, DefaultOptions)
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(up.release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, "alt for "+req.ImageURL, got.res.AltText)
	case <-time.After(time.Second):
		t.Fatal("live caller never got the shared result")
	}
	assert.EqualValues(t, 1, up.calls.Load())
	assert.Zero(t, up.ctxErrs.Load())
}

func TestCachedAnalyzerBypassesBrokenCache(t *testing.T) {
	cache := &memoryCache{err: errors.New("redis down")}
	up := &countingAnalyzer{}
	c := NewCachedAnalyzer(up, cache, time.Hour, nil)

	res, err := c.Analyze(context.Background(), req, DefaultOptions)
	require.NoError(t, err)
	assert.Equal(t, "alt for "+req.ImageURL, res.AltText)
}

func TestCachedAnalyzerPropagatesErrors(t *testing.T) {
	boom := newError(entity.CodeServerError, 500, "down", nil)
	c := NewCachedAnalyzer(&countingAnalyzer{err: boom}, &memoryCache{}, time.Hour, nil)

	_, err := c.Analyze(context.Background(), req, DefaultOptions)
	assert.ErrorIs(t, err, boom)
}
