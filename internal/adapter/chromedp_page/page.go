// Package chromedp_page exposes a live Chrome tab as a dom.Document and
// dom.MutationSource. Reads and writes go through a small in-page registry
// installed on every new document.
package chromedp_page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/lumos/internal/dom"
	"github.com/user/lumos/internal/eventloop"
	"github.com/user/lumos/pkg/logger"
)

const (
	defaultUserAgent = `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36`
	defaultTimeout   = 60 * time.Second
	callTimeout      = 10 * time.Second
)

// Options configure the browser.
type Options struct {
	Headless bool
	// PageLoadTimeout bounds navigation until the body is ready.
	PageLoadTimeout time.Duration
	UserAgent       string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	Logger   *zap.Logger
}

// Page is one tab. It is safe for concurrent use; mutation and load
// callbacks run on a private dispatch loop, in order, never concurrently.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	url    string
	logger *zap.Logger
	events *eventloop.Loop

	mu        sync.Mutex
	observers map[int]*observer
	nextObs   int
	waiters   map[dom.ElementID][]func()
}

type observer struct {
	opts dom.ObserveOptions
	fn   func([]dom.MutationRecord)
}

var _ dom.Document = (*Page)(nil)
var _ dom.MutationSource = (*Page)(nil)

// Open starts a browser, navigates to pageURL and waits for the body.
func Open(ctx context.Context, pageURL string, opts Options) (*Page, error) {
	l := logger.OrNop(opts.Logger)
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(l.Sugar().Debugf))

	p := &Page{
		ctx:       tabCtx,
		logger:    l.With(zap.String("page_url", pageURL)),
		events:    eventloop.New(l),
		observers: make(map[int]*observer),
		waiters:   make(map[dom.ElementID][]func()),
	}
	p.cancel = func() {
		p.events.Stop()
		cancelTab()
		cancelAlloc()
	}
	go func() { _ = p.events.Run(tabCtx) }()
	chromedp.ListenTarget(tabCtx, p.onEvent)

	// The first Run starts the browser on the long-lived tab context.
	if err := chromedp.Run(tabCtx); err != nil {
		p.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	loadCtx, cancelLoad := context.WithTimeout(tabCtx, opts.PageLoadTimeout)
	defer cancelLoad()
	err := chromedp.Run(loadCtx,
		runtime.AddBinding(mutationsBinding),
		runtime.AddBinding(loadedBinding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bootstrapScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Pages that replaced the document after load need the registry
		// again.
		chromedp.Evaluate(bootstrapScript, nil),
		chromedp.Evaluate("window.__lumos.url()", &p.url),
	)
	if err != nil {
		p.cancel()
		return nil, fmt.Errorf("load %s: %w", pageURL, err)
	}
	p.logger.Info("Page loaded", zap.String("resolved_url", p.url))
	return p, nil
}

// Close shuts the tab and the browser.
func (p *Page) Close() {
	p.cancel()
}

func (p *Page) URL() string { return p.url }

func (p *Page) Body() dom.Element {
	var id int64
	if err := p.call(&id, "body"); err != nil || id == 0 {
		return nil
	}
	return p.element(dom.ElementID(id))
}

func (p *Page) QueryAll(selector string) []dom.Element {
	var ids []int64
	if err := p.call(&ids, "queryAll", selector); err != nil {
		p.logger.Debug("querySelectorAll failed", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	return p.elements(ids)
}

func (p *Page) ElementByID(id dom.ElementID) (dom.Element, bool) {
	var alive bool
	if err := p.call(&alive, "alive", int64(id)); err != nil || !alive {
		return nil, false
	}
	return p.element(id), true
}

func (p *Page) CreateLiveRegion() (dom.LiveRegion, error) {
	var id int64
	if err := p.call(&id, "createRegion"); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, dom.ErrDetached
	}
	return &liveRegion{page: p, id: dom.ElementID(id)}, nil
}

// Observe implements dom.MutationSource. The in-page observer watches the
// union of every registered attribute filter; records are filtered again
// per observer.
func (p *Page) Observe(opts dom.ObserveOptions, fn func([]dom.MutationRecord)) (func(), error) {
	if fn == nil {
		return nil, errors.New("observe: nil callback")
	}
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = &observer{opts: opts, fn: fn}
	attrs := p.attributeUnionLocked()
	p.mu.Unlock()

	var ok bool
	if err := p.call(&ok, "observe", attrs); err != nil {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("observe: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.observers, id)
			remaining := len(p.observers)
			attrs := p.attributeUnionLocked()
			p.mu.Unlock()

			var ok bool
			method, args := "disconnect", []any(nil)
			if remaining > 0 {
				method, args = "observe", []any{attrs}
			}
			if err := p.call(&ok, method, args...); err != nil {
				p.logger.Debug("Failed to update page observer", zap.Error(err))
			}
		})
	}, nil
}

func (p *Page) attributeUnionLocked() []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, o := range p.observers {
		for _, name := range o.opts.AttributeFilter {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// onEvent runs on chromedp's event goroutine and must not block.
func (p *Page) onEvent(ev interface{}) {
	e, ok := ev.(*runtime.EventBindingCalled)
	if !ok {
		return
	}
	switch e.Name {
	case mutationsBinding:
		payload := e.Payload
		p.events.Post(func() { p.deliver(payload) })
	case loadedBinding:
		id, err := strconv.ParseInt(e.Payload, 10, 64)
		if err != nil {
			return
		}
		p.events.Post(func() { p.fireLoaded(dom.ElementID(id)) })
	}
}

type rawRecord struct {
	Kind    int     `json:"kind"`
	Target  int64   `json:"target"`
	Added   []int64 `json:"added"`
	Removed []int64 `json:"removed"`
	Attr    string  `json:"attr"`
}

func (p *Page) deliver(payload string) {
	var raw []rawRecord
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		p.logger.Warn("Malformed mutation batch", zap.Error(err))
		return
	}
	records := make([]dom.MutationRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, dom.MutationRecord{
			Kind:          dom.MutationKind(r.Kind),
			Target:        p.element(dom.ElementID(r.Target)),
			Added:         p.elements(r.Added),
			Removed:       p.elements(r.Removed),
			AttributeName: r.Attr,
		})
	}

	p.mu.Lock()
	ids := make([]int, 0, len(p.observers))
	for id := range p.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]*observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, p.observers[id])
	}
	p.mu.Unlock()

	for _, o := range observers {
		var batch []dom.MutationRecord
		for _, rec := range records {
			if rec.Kind == dom.MutationAttributes && !o.opts.AttributeWanted(rec.AttributeName) {
				continue
			}
			batch = append(batch, rec)
		}
		if len(batch) > 0 {
			o.fn(batch)
		}
	}
}

func (p *Page) onceLoaded(id dom.ElementID, fn func()) {
	p.mu.Lock()
	first := len(p.waiters[id]) == 0
	p.waiters[id] = append(p.waiters[id], fn)
	p.mu.Unlock()
	if !first {
		return
	}
	var ok bool
	if err := p.call(&ok, "onceLoaded", int64(id)); err != nil || !ok {
		p.mu.Lock()
		delete(p.waiters, id)
		p.mu.Unlock()
	}
}

func (p *Page) fireLoaded(id dom.ElementID) {
	p.mu.Lock()
	fns := p.waiters[id]
	delete(p.waiters, id)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// call runs window.__lumos[method](...args) and decodes the result into
// out.
func (p *Page) call(out any, method string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(p.ctx, callTimeout)
	defer cancel()
	expr := fmt.Sprintf("window.__lumos.%s(...%s)", method, encoded)
	return chromedp.Run(ctx, chromedp.Evaluate(expr, out))
}

func (p *Page) element(id dom.ElementID) *element {
	return &element{page: p, id: id}
}

func (p *Page) elements(ids []int64) []dom.Element {
	out := make([]dom.Element, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.element(dom.ElementID(id)))
	}
	return out
}
