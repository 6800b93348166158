package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/lumos/internal/announcer"
	"github.com/user/lumos/internal/detector"
	"github.com/user/lumos/internal/dom"
	"github.com/user/lumos/internal/eventloop"
	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/internal/usecase"
	"github.com/user/lumos/pkg/config"
	"github.com/user/lumos/pkg/logger"
)

// Session runs one pipeline on its own event loop.
type Session struct {
	Pipeline *usecase.Pipeline

	loop   *eventloop.Loop
	cancel context.CancelFunc
	done   chan struct{}
}

// SessionDeps are the page-specific parts of a session.
type SessionDeps struct {
	Document  dom.Document
	Mutations dom.MutationSource
	Relay     usecase.ImageAnalyzer
	Settings  repository.SettingsRepository
}

// NewDetector applies DETECTOR_RULES_FILE when set.
func NewDetector(cfg *config.Config) (*detector.Detector, error) {
	dc := detector.DefaultConfig()
	if cfg.DetectorRulesFile != "" {
		rules, err := detector.LoadSiteRules(cfg.DetectorRulesFile)
		if err != nil {
			return nil, err
		}
		dc.SiteRules = rules
	}
	return detector.New(dc), nil
}

// StartSession starts the loop and the pipeline. Close must be called.
func StartSession(ctx context.Context, cfg *config.Config, deps SessionDeps, l *zap.Logger) (*Session, error) {
	l = logger.OrNop(l)
	det, err := NewDetector(cfg)
	if err != nil {
		return nil, err
	}

	loop := eventloop.New(l)
	loopCtx, cancel := context.WithCancel(context.Background())
	s := &Session{loop: loop, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		if err := loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			l.Error("Event loop exited", zap.Error(err))
		}
	}()

	p, err := usecase.NewPipeline(usecase.PipelineDeps{
		Document:  deps.Document,
		Mutations: deps.Mutations,
		Loop:      loop,
		Relay:     deps.Relay,
		Settings:  deps.Settings,
		Detector:  det,
		Announcer: announcer.Config{
			DedupeWindow: cfg.AnnounceDedupeWindow(),
			MinSpacing:   cfg.AnnounceMinSpacing(),
		},
		Logger: l,
	})
	if err != nil {
		s.stopLoop()
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		s.stopLoop()
		return nil, fmt.Errorf("start session: %w", err)
	}
	s.Pipeline = p
	return s, nil
}

// Close stops the pipeline, then the loop.
func (s *Session) Close(ctx context.Context) error {
	var err error
	if s.Pipeline != nil {
		err = s.Pipeline.Stop(ctx)
	}
	s.stopLoop()
	return err
}

func (s *Session) stopLoop() {
	s.cancel()
	<-s.done
}
