package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Analyzer modes.
const (
	ModeAPI  = "api"
	ModeMock = "mock"
)

// Policies for a missing LUMOS_API_BASE_URL in api mode.
const (
	MissingBaseURLMock  = "mock"
	MissingBaseURLError = "error"
)

// Settings store backends.
const (
	SettingsBackendFile  = "file"
	SettingsBackendRedis = "redis"
)

// Config holds the application configuration.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	APIBaseURL           string `mapstructure:"LUMOS_API_BASE_URL"`
	AnalyzerMode         string `mapstructure:"ANALYZER_MODE"`
	MissingBaseURLPolicy string `mapstructure:"MISSING_BASE_URL_POLICY"`
	AnalyzeTimeoutMs     int    `mapstructure:"ANALYZE_TIMEOUT_MS"`
	AnalyzeMaxRetries    int    `mapstructure:"ANALYZE_MAX_RETRIES"`
	AnalyzeRetryDelayMs  int    `mapstructure:"ANALYZE_RETRY_DELAY_MS"`
	MockDelayMs          int    `mapstructure:"MOCK_DELAY_MS"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	CacheTTLHours int    `mapstructure:"CACHE_TTL_HOURS"`

	PostgresURL string `mapstructure:"POSTGRES_URL"`

	RelayURL          string `mapstructure:"RELAY_URL"`
	SettingsBackend   string `mapstructure:"SETTINGS_BACKEND"`
	SettingsFile      string `mapstructure:"SETTINGS_FILE"`
	DetectorRulesFile string `mapstructure:"DETECTOR_RULES_FILE"`

	PageLoadTimeoutSeconds int `mapstructure:"PAGE_LOAD_TIMEOUT_SECONDS"`
	AnnounceDedupeWindowMs int `mapstructure:"ANNOUNCE_DEDUPE_WINDOW_MS"`
	AnnounceMinSpacingMs   int `mapstructure:"ANNOUNCE_MIN_SPACING_MS"`
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit env file path.
func LoadFrom(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// The file is optional so production can configure purely through the
	// environment.
	_ = v.ReadInConfig()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LUMOS_API_BASE_URL", "")
	v.SetDefault("ANALYZER_MODE", ModeAPI)
	v.SetDefault("MISSING_BASE_URL_POLICY", MissingBaseURLMock)
	v.SetDefault("ANALYZE_TIMEOUT_MS", 12000)
	v.SetDefault("ANALYZE_MAX_RETRIES", 2)
	v.SetDefault("ANALYZE_RETRY_DELAY_MS", 400)
	v.SetDefault("MOCK_DELAY_MS", 600)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_HOURS", 24*7)
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("RELAY_URL", "")
	v.SetDefault("SETTINGS_BACKEND", SettingsBackendFile)
	v.SetDefault("SETTINGS_FILE", "lumos-settings.yaml")
	v.SetDefault("DETECTOR_RULES_FILE", "")
	v.SetDefault("PAGE_LOAD_TIMEOUT_SECONDS", 60)
	v.SetDefault("ANNOUNCE_DEDUPE_WINDOW_MS", 1200)
	v.SetDefault("ANNOUNCE_MIN_SPACING_MS", 400)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	c.AnalyzerMode = strings.ToLower(strings.TrimSpace(c.AnalyzerMode))
	c.MissingBaseURLPolicy = strings.ToLower(strings.TrimSpace(c.MissingBaseURLPolicy))
	c.SettingsBackend = strings.ToLower(strings.TrimSpace(c.SettingsBackend))
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")

	switch c.AnalyzerMode {
	case ModeAPI, ModeMock:
	default:
		return fmt.Errorf("invalid ANALYZER_MODE %q", c.AnalyzerMode)
	}
	switch c.MissingBaseURLPolicy {
	case MissingBaseURLMock, MissingBaseURLError:
	default:
		return fmt.Errorf("invalid MISSING_BASE_URL_POLICY %q", c.MissingBaseURLPolicy)
	}
	switch c.SettingsBackend {
	case SettingsBackendFile, SettingsBackendRedis:
	default:
		return fmt.Errorf("invalid SETTINGS_BACKEND %q", c.SettingsBackend)
	}
	if c.SettingsBackend == SettingsBackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("SETTINGS_BACKEND=redis requires REDIS_ADDR")
	}
	if c.AnalyzeTimeoutMs <= 0 {
		return fmt.Errorf("ANALYZE_TIMEOUT_MS must be positive")
	}
	if c.AnalyzeMaxRetries < 0 || c.AnalyzeRetryDelayMs < 0 {
		return fmt.Errorf("retry settings must not be negative")
	}
	return nil
}

func (c *Config) AnalyzeTimeout() time.Duration {
	return time.Duration(c.AnalyzeTimeoutMs) * time.Millisecond
}

func (c *Config) AnalyzeRetryDelay() time.Duration {
	return time.Duration(c.AnalyzeRetryDelayMs) * time.Millisecond
}

func (c *Config) MockDelay() time.Duration {
	return time.Duration(c.MockDelayMs) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func (c *Config) PageLoadTimeout() time.Duration {
	return time.Duration(c.PageLoadTimeoutSeconds) * time.Second
}

func (c *Config) AnnounceDedupeWindow() time.Duration {
	return time.Duration(c.AnnounceDedupeWindowMs) * time.Millisecond
}

func (c *Config) AnnounceMinSpacing() time.Duration {
	return time.Duration(c.AnnounceMinSpacingMs) * time.Millisecond
}
