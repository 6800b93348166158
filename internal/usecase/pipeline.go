package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/lumos/internal/announcer"
	"github.com/user/lumos/internal/detector"
	"github.com/user/lumos/internal/dom"
	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/internal/eventloop"
	"github.com/user/lumos/internal/injector"
	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/internal/state"
	"github.com/user/lumos/internal/watcher"
	"github.com/user/lumos/pkg/logger"
	"github.com/user/lumos/pkg/metrics"
	"github.com/user/lumos/pkg/utils"
)

// ImageAnalyzer is the pipeline's view of the relay.
type ImageAnalyzer interface {
	SendPing(ctx context.Context) error
	RequestImageAnalysis(ctx context.Context, req entity.AnalyzeRequest) (*entity.AnalyzeResult, error)
}

// PipelineDeps wires a Pipeline. Document, Mutations, Loop, Relay and
// Settings are required.
type PipelineDeps struct {
	Document  dom.Document
	Mutations dom.MutationSource
	Loop      *eventloop.Loop
	Relay     ImageAnalyzer
	Settings  repository.SettingsRepository

	Detector  *detector.Detector
	Store     *state.Store
	Injector  *injector.Injector
	Announcer announcer.Config
	Logger    *zap.Logger
}

// PipelineStats are the request counters of one page session.
type PipelineStats struct {
	Requested  int
	Succeeded  int
	Failed     int
	UniqueURLs int
}

// Pipeline is the per-page orchestrator. Its state is owned by the event
// loop; exported methods hop onto the loop and may be called from any
// goroutine except the loop itself.
type Pipeline struct {
	doc       dom.Document
	mutations dom.MutationSource
	loop      *eventloop.Loop
	relay     ImageAnalyzer
	repo      repository.SettingsRepository
	detector  *detector.Detector
	store     *state.Store
	injector  *injector.Injector
	annCfg    announcer.Config
	logger    *zap.Logger

	// Loop-owned from here on.
	settings    entity.Settings
	watcher     *watcher.Watcher
	announcer   *announcer.Announcer
	inFlight    map[string]bool
	outstanding int
	idle        []chan struct{}
	stats       PipelineStats
	started     bool
	stopped     bool
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPipeline validates deps and returns a stopped pipeline.
func NewPipeline(d PipelineDeps) (*Pipeline, error) {
	switch {
	case d.Document == nil:
		return nil, errors.New("pipeline: document is required")
	case d.Mutations == nil:
		return nil, errors.New("pipeline: mutation source is required")
	case d.Loop == nil:
		return nil, errors.New("pipeline: event loop is required")
	case d.Relay == nil:
		return nil, errors.New("pipeline: relay is required")
	case d.Settings == nil:
		return nil, errors.New("pipeline: settings store is required")
	}
	if d.Detector == nil {
		d.Detector = detector.New(detector.DefaultConfig())
	}
	if d.Store == nil {
		d.Store = state.New()
	}
	if d.Injector == nil {
		d.Injector = injector.New(nil)
	}
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		doc:       d.Document,
		mutations: d.Mutations,
		loop:      d.Loop,
		relay:     d.Relay,
		repo:      d.Settings,
		detector:  d.Detector,
		store:     d.Store,
		injector:  d.Injector,
		annCfg:    d.Announcer,
		logger:    logger.OrNop(d.Logger).With(zap.String("page_url", d.Document.URL())),
		settings:  entity.DefaultSettings,
		inFlight:  make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.watcher = watcher.New(watcher.Handlers{
		OnImageAdded:      func(el dom.Element) { p.loop.Post(func() { p.process(el) }) },
		OnImageRemoved:    func(el dom.Element) { p.loop.Post(func() { p.store.Unbind(el.ID()) }) },
		OnImageSrcChanged: func(el dom.Element) { p.loop.Post(func() { p.process(el) }) },
	}, p.logger)
	return p, nil
}

// Start loads settings, pings the relay, creates the announcer and, when
// the feature is active, scans the page and starts watching it.
func (p *Pipeline) Start(ctx context.Context) error {
	settings, err := p.repo.Load(ctx)
	if err != nil {
		p.logger.Warn("Failed to load settings, using defaults", zap.Error(err))
		settings = entity.DefaultSettings
	}
	if err := p.relay.SendPing(ctx); err != nil {
		p.logger.Warn("Relay ping failed", zap.Error(err))
	}

	var startErr error
	err = p.loop.Call(ctx, func() {
		if p.started {
			startErr = errors.New("pipeline already started")
			return
		}
		p.started = true
		p.settings = settings

		ann, err := announcer.New(p.doc, p.loop, p.annCfg, p.logger)
		if err != nil {
			p.logger.Warn("Live region unavailable, announcements disabled", zap.Error(err))
		} else {
			p.announcer = ann
		}

		p.unsubscribe = p.repo.Subscribe(func(d entity.SettingsDelta) {
			p.loop.Post(func() { p.applySettings(d) })
		})

		if p.settings.Active() {
			p.activate()
		}
		p.logger.Info("Pipeline started",
			zap.Bool("enabled", p.settings.Enabled),
			zap.Bool("auto_analyze", p.settings.AutoAnalyze),
		)
	})
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	return startErr
}

// Stop disconnects the watcher, releases the announcer and abandons
// in-flight requests. Results that arrive later are ignored.
func (p *Pipeline) Stop(ctx context.Context) error {
	err := p.loop.Call(ctx, p.teardown)
	if errors.Is(err, eventloop.ErrStopped) {
		p.cancel()
		return nil
	}
	return err
}

// ApplySettings applies a change notification.
func (p *Pipeline) ApplySettings(ctx context.Context, d entity.SettingsDelta) error {
	return p.loop.Call(ctx, func() { p.applySettings(d) })
}

// Rescan processes every image currently on the page.
func (p *Pipeline) Rescan(ctx context.Context) error {
	return p.loop.Call(ctx, p.scan)
}

// Snapshot returns the per-URL states.
func (p *Pipeline) Snapshot(ctx context.Context) ([]state.ImageState, error) {
	var out []state.ImageState
	err := p.loop.Call(ctx, func() { out = p.store.Snapshot() })
	return out, err
}

// Stats returns the session counters.
func (p *Pipeline) Stats(ctx context.Context) (PipelineStats, error) {
	var out PipelineStats
	err := p.loop.Call(ctx, func() {
		out = p.stats
		out.UniqueURLs = p.store.Len()
	})
	return out, err
}

// WaitIdle blocks until queued work ran and no request is outstanding.
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	for {
		var wait chan struct{}
		if err := p.loop.Call(ctx, func() {
			if p.outstanding > 0 {
				wait = make(chan struct{})
				p.idle = append(p.idle, wait)
			}
		}); err != nil {
			return err
		}
		if wait == nil {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) teardown() {
	if p.stopped {
		return
	}
	p.stopped = true
	p.watcher.Stop()
	if p.announcer != nil {
		p.announcer.Destroy()
	}
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.cancel()
	p.releaseIdle()
	p.logger.Info("Pipeline stopped",
		zap.Int("requested", p.stats.Requested),
		zap.Int("succeeded", p.stats.Succeeded),
		zap.Int("failed", p.stats.Failed),
	)
}

func (p *Pipeline) applySettings(d entity.SettingsDelta) {
	if p.stopped || d.Empty() {
		return
	}
	wasActive := p.settings.Active()
	p.settings = p.settings.Apply(d)
	p.logger.Info("Settings changed",
		zap.Bool("enabled", p.settings.Enabled),
		zap.Bool("auto_analyze", p.settings.AutoAnalyze),
	)
	switch {
	case wasActive && !p.settings.Active():
		p.watcher.Stop()
	case !wasActive && p.settings.Active():
		p.activate()
	}
}

// activate scans the page and starts the watcher.
func (p *Pipeline) activate() {
	p.scan()
	if err := p.watcher.Start(p.mutations); err != nil && !errors.Is(err, watcher.ErrAlreadyStarted) {
		p.logger.Error("Failed to start mutation watcher", zap.Error(err))
	}
}

// scan processes candidates top to bottom, then images still loading so
// they get a load trigger.
func (p *Pipeline) scan() {
	if p.stopped || !p.settings.Active() {
		return
	}
	seen := make(map[dom.ElementID]bool)
	for _, el := range p.detector.DetectCandidates(p.doc) {
		seen[el.ID()] = true
		p.process(el)
	}
	for _, el := range p.doc.QueryAll("img") {
		if !seen[el.ID()] && !el.Complete() {
			p.process(el)
		}
	}
}

// process runs one element through the pipeline. It never returns an
// error: failures end up in the store.
func (p *Pipeline) process(el dom.Element) {
	if p.stopped || el == nil || !p.settings.Active() {
		return
	}
	id := el.ID()
	url, err := utils.NormalizeURL(p.doc.URL(), el.CurrentSrc())
	if err != nil || url == "" {
		// The source went away: the element no longer shows the image we
		// described.
		if prev := p.store.Unbind(id); prev != "" {
			if err := p.injector.Restore(el); err != nil {
				p.logger.Warn("Failed to restore element", zap.String("previous_url", prev), zap.Error(err))
			}
		}
		return
	}

	if prev := p.store.Bind(id, url); prev != "" && prev != url {
		if err := p.injector.Restore(el); err != nil {
			p.logger.Warn("Failed to restore element", zap.String("previous_url", prev), zap.Error(err))
		}
		p.markPending(url, id)
	}

	if !p.detector.IsCandidate(el, p.doc) {
		if !el.Complete() {
			p.deferUntilLoaded(el)
		}
		return
	}

	if alt, ok := p.store.CachedAltText(url); ok {
		p.inject(el, url, alt)
		return
	}

	if st, _ := p.store.Get(url); st.Status == state.StatusAnalyzing || p.inFlight[url] {
		return
	}

	if !el.Complete() {
		p.deferUntilLoaded(el)
		return
	}

	p.markPending(url, id)
	p.request(el, url)
}

// markPending starts a fresh lifecycle unless url is completed or
// analyzing.
func (p *Pipeline) markPending(url string, id dom.ElementID) {
	if st, ok := p.store.Get(url); ok && (st.Status == state.StatusCompleted || st.Status == state.StatusAnalyzing) {
		return
	}
	if _, err := p.store.MarkPending(url, id); err != nil {
		p.logger.Debug("Pending transition rejected", zap.String("image_url", url), zap.Error(err))
		return
	}
	metrics.TrackedImageURLs.Set(float64(p.store.Len()))
}

// deferUntilLoaded re-enters process once when el finishes loading.
func (p *Pipeline) deferUntilLoaded(el dom.Element) {
	if v, _ := el.Attr(injector.AttrLoadBound); v == "true" {
		return
	}
	if err := el.SetAttr(injector.AttrLoadBound, "true"); err != nil {
		return
	}
	el.OnceLoaded(func() {
		p.loop.Post(func() {
			if p.stopped {
				return
			}
			_ = el.RemoveAttr(injector.AttrLoadBound)
			p.process(el)
		})
	})
}

func (p *Pipeline) request(el dom.Element, url string) {
	id := el.ID()
	if _, err := p.store.MarkAnalyzing(url, id); err != nil {
		p.logger.Warn("Analyzing transition rejected", zap.String("image_url", url), zap.Error(err))
		return
	}
	p.inFlight[url] = true
	p.outstanding++
	p.stats.Requested++
	metrics.PipelineRequestsTotal.WithLabelValues("requested").Inc()
	p.announce(announcer.MessageAnalyzing, "analyzing")

	ctx := p.ctx
	req := entity.AnalyzeRequest{ImageURL: url, PageURL: p.doc.URL()}
	p.logger.Debug("Requesting analysis", zap.String("image_url", url))
	go func() {
		res, err := p.relay.RequestImageAnalysis(ctx, req)
		if !p.loop.Post(func() { p.finish(id, url, res, err) }) {
			p.logger.Debug("Dropped analysis result after teardown", zap.String("image_url", url))
		}
	}()
}

func (p *Pipeline) finish(id dom.ElementID, url string, res *entity.AnalyzeResult, err error) {
	defer func() {
		delete(p.inFlight, url)
		p.outstanding--
		if p.outstanding == 0 {
			p.releaseIdle()
		}
	}()
	if p.stopped {
		return
	}

	var text string
	if err == nil && res != nil {
		text = injector.NormalizeText(res.AltText)
	}
	if err != nil || text == "" {
		if err == nil {
			err = errors.New("analysis returned empty alt text")
		}
		if _, serr := p.store.MarkError(url, err.Error(), 0); serr != nil {
			p.logger.Warn("Error transition rejected", zap.String("image_url", url), zap.Error(serr))
		}
		p.stats.Failed++
		metrics.PipelineRequestsTotal.WithLabelValues("failure").Inc()
		p.logger.Warn("Image analysis failed", zap.String("image_url", url), zap.Error(err))
		p.announce(announcer.MessageFailed, "failed")
		return
	}

	if _, serr := p.store.MarkCompleted(url, text, 0); serr != nil {
		p.logger.Warn("Completed transition rejected", zap.String("image_url", url), zap.Error(serr))
		return
	}
	p.stats.Succeeded++
	metrics.PipelineRequestsTotal.WithLabelValues("success").Inc()

	el, ok := p.doc.ElementByID(id)
	if bound, _ := p.store.URLFor(id); !ok || bound != url {
		// The element went away or now shows another image; the result
		// stays cached for the next element using this URL.
		return
	}
	if res := p.inject(el, url, text); res.Applied {
		p.announce(announcer.MessageCompleted, "completed")
	}
}

func (p *Pipeline) inject(el dom.Element, url, text string) injector.Result {
	res, err := p.injector.Apply(el, text)
	if err != nil {
		p.logger.Warn("Alt text injection failed", zap.String("image_url", url), zap.Error(err))
		metrics.InjectionsTotal.WithLabelValues("error").Inc()
		return res
	}
	metrics.InjectionsTotal.WithLabelValues(string(res.Reason)).Inc()
	if !res.Applied {
		p.logger.Info("Alt injection skipped", zap.String("image_url", url), zap.String("reason", string(res.Reason)))
	}
	return res
}

func (p *Pipeline) announce(msg, key string) {
	if p.announcer == nil {
		return
	}
	p.announcer.Announce(msg, announcer.Options{DedupeKey: key})
}

func (p *Pipeline) releaseIdle() {
	for _, ch := range p.idle {
		close(ch)
	}
	p.idle = nil
}
