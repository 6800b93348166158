package main

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/user/lumos/pkg/config"
	"github.com/user/lumos/pkg/logger"
)

type commandContext struct {
	envFlag      *string
	logLevelFlag *string

	once   sync.Once
	config *config.Config
	logger *zap.Logger
	err    error
}

func newCommandContext(envFlag, logLevelFlag *string) *commandContext {
	return &commandContext{envFlag: envFlag, logLevelFlag: logLevelFlag}
}

// ensure loads the configuration and logger once per invocation.
func (c *commandContext) ensure() (*config.Config, *zap.Logger, error) {
	c.once.Do(func() {
		path := ".env"
		if c.envFlag != nil && strings.TrimSpace(*c.envFlag) != "" {
			path = strings.TrimSpace(*c.envFlag)
		}
		cfg, err := config.LoadFrom(path)
		if err != nil {
			c.err = err
			return
		}
		level := cfg.LogLevel
		if c.logLevelFlag != nil && *c.logLevelFlag != "" {
			level = *c.logLevelFlag
		}
		l, err := logger.New(level)
		if err != nil {
			c.err = err
			return
		}
		c.config, c.logger = cfg, l
	})
	return c.config, c.logger, c.err
}
