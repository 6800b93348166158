package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/pkg/logger"
	"github.com/user/lumos/pkg/metrics"
)

// CachedAnalyzer answers repeat requests from a cache and lets concurrent
// requests for the same image share one upstream call. Cache failures are
// logged and bypassed.
type CachedAnalyzer struct {
	next   Analyzer
	cache  repository.AnalysisCacheRepository
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

// NewCachedAnalyzer wraps next. cache may be nil to only coalesce.
func NewCachedAnalyzer(next Analyzer, cache repository.AnalysisCacheRepository, ttl time.Duration, l *zap.Logger) *CachedAnalyzer {
	metrics.Init()
	return &CachedAnalyzer{next: next, cache: cache, ttl: ttl, logger: logger.OrNop(l)}
}

func (c *CachedAnalyzer) Analyze(ctx context.Context, req entity.AnalyzeRequest, opts Options) (*entity.AnalyzeResult, error) {
	start := time.Now()
	if alt, ok := c.lookup(ctx, req.ImageURL); ok {
		return &entity.AnalyzeResult{
			AltText:   alt,
			Source:    entity.SourceAPI,
			LatencyMs: time.Since(start).Milliseconds(),
		}, nil
	}

	// The shared call outlives any single caller; Options bounds it.
	ch := c.group.DoChan(req.ImageURL, func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		res, err := c.next.Analyze(shared, req, opts)
		if err != nil {
			return nil, err
		}
		c.store(shared, req.ImageURL, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			c.logger.Debug("Shared in-flight analysis", zap.String("image_url", req.ImageURL))
		}
		res := *r.Val.(*entity.AnalyzeResult)
		return &res, nil
	}
}

func (c *CachedAnalyzer) lookup(ctx context.Context, imageURL string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	alt, ok, err := c.cache.Get(ctx, imageURL)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("Analysis cache lookup failed", zap.String("image_url", imageURL), zap.Error(err))
		return "", false
	case ok:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return alt, true
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return "", false
	}
}

func (c *CachedAnalyzer) store(ctx context.Context, imageURL string, res *entity.AnalyzeResult) {
	// Mock output stays out of the shared cache.
	if c.cache == nil || res.Source != entity.SourceAPI {
		return
	}
	if err := c.cache.Set(ctx, imageURL, res.AltText, c.ttl); err != nil {
		c.logger.Warn("Failed to cache analysis", zap.String("image_url", imageURL), zap.Error(err))
	}
}
