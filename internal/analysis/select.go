package analysis

import (
	"go.uber.org/zap"

	"github.com/user/lumos/pkg/config"
	"github.com/user/lumos/pkg/logger"
)

// New picks the analyzer for the configured mode. In api mode without a
// base URL the MISSING_BASE_URL_POLICY decides between the mock and
// ErrMissingBaseURL. The choice is made once; failures are never answered
// by the mock at runtime.
func New(cfg *config.Config, l *zap.Logger, opts ...Option) (Analyzer, error) {
	l = logger.OrNop(l)
	if cfg.AnalyzerMode == config.ModeMock {
		l.Info("Using mock analyzer", zap.Duration("delay", cfg.MockDelay()))
		return NewMockAnalyzer(cfg.MockDelay()), nil
	}
	if cfg.APIBaseURL == "" {
		if cfg.MissingBaseURLPolicy == config.MissingBaseURLError {
			return nil, ErrMissingBaseURL
		}
		l.Warn("LUMOS_API_BASE_URL is not set, using mock analyzer")
		return NewMockAnalyzer(cfg.MockDelay()), nil
	}
	return NewClient(cfg.APIBaseURL, append([]Option{WithLogger(l)}, opts...)...)
}

// OptionsFrom returns the per-call options configured for the relay.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Timeout:    cfg.AnalyzeTimeout(),
		MaxRetries: cfg.AnalyzeMaxRetries,
		RetryDelay: cfg.AnalyzeRetryDelay(),
	}
}
