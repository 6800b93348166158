// Package vdom is an in-memory dom.Document built on golang.org/x/net/html
// with goquery selectors. Static HTML has no layout engine, so geometry
// comes from width/height attributes unless a test or caller sets it
// explicitly.
package vdom

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/user/lumos/internal/dom"
)

// Document is safe for concurrent use. Mutation callbacks are delivered in
// order and never concurrently.
type Document struct {
	mu     sync.Mutex
	url    string
	root   *html.Node
	ids    map[*html.Node]dom.ElementID
	nodes  map[dom.ElementID]*html.Node
	nextID dom.ElementID

	layout  map[*html.Node]dom.Rect
	natural map[*html.Node]dom.Size
	pending map[*html.Node]bool
	waiters map[*html.Node][]func()

	observers  map[int]*observer
	nextObs    int
	queue      []delivery
	delivering bool
	// detached subtrees are forgotten once their removal was delivered.
	detached []*html.Node
}

type observer struct {
	opts dom.ObserveOptions
	fn   func([]dom.MutationRecord)
}

type delivery struct {
	obs     *observer
	records []dom.MutationRecord
}

var _ dom.Document = (*Document)(nil)
var _ dom.MutationSource = (*Document)(nil)

// Parse reads an HTML document served at pageURL.
func Parse(pageURL string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{
		url:       pageURL,
		root:      root,
		ids:       make(map[*html.Node]dom.ElementID),
		nodes:     make(map[dom.ElementID]*html.Node),
		layout:    make(map[*html.Node]dom.Rect),
		natural:   make(map[*html.Node]dom.Size),
		pending:   make(map[*html.Node]bool),
		waiters:   make(map[*html.Node][]func()),
		observers: make(map[int]*observer),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(pageURL, src string) (*Document, error) {
	return Parse(pageURL, strings.NewReader(src))
}

func (d *Document) URL() string { return d.url }

func (d *Document) Body() dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	body := findFirst(d.root, atom.Body)
	if body == nil {
		return nil
	}
	return d.wrapLocked(body)
}

func (d *Document) QueryAll(selector string) []dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dom.Element
	goquery.NewDocumentFromNode(d.root).Find(selector).Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			out = append(out, d.wrapLocked(n))
		}
	})
	return out
}

func (d *Document) ElementByID(id dom.ElementID) (dom.Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return nil, false
	}
	return &element{doc: d, node: n, id: id}, true
}

// Render writes the current tree as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes to it.
func (d *Document) AppendHTML(parent dom.Element, fragment string) ([]dom.Element, error) {
	p, err := d.nodeOf(parent)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), p)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	var added []dom.Element
	for _, n := range nodes {
		p.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, d.wrapLocked(n))
		}
	}
	if len(added) > 0 {
		d.enqueueLocked(dom.MutationRecord{
			Kind:   dom.MutationChildList,
			Target: d.wrapLocked(p),
			Added:  added,
		})
	}
	d.mu.Unlock()

	d.flush()
	return added, nil
}

// Remove detaches el from its parent.
func (d *Document) Remove(el dom.Element) error {
	n, err := d.nodeOf(el)
	if err != nil {
		return err
	}

	d.mu.Lock()
	parent := n.Parent
	if parent == nil {
		d.mu.Unlock()
		return dom.ErrDetached
	}
	parent.RemoveChild(n)
	d.enqueueLocked(dom.MutationRecord{
		Kind:    dom.MutationChildList,
		Target:  d.wrapLocked(parent),
		Removed: []dom.Element{d.wrapLocked(n)},
	})
	d.detached = append(d.detached, n)
	d.mu.Unlock()

	d.flush()
	return nil
}

// SetLayout overrides the rendered box of el.
func (d *Document) SetLayout(el dom.Element, r dom.Rect) {
	if n, err := d.nodeOf(el); err == nil {
		d.mu.Lock()
		d.layout[n] = r
		d.mu.Unlock()
	}
}

// SetNaturalSize overrides the intrinsic size of el.
func (d *Document) SetNaturalSize(el dom.Element, s dom.Size) {
	if n, err := d.nodeOf(el); err == nil {
		d.mu.Lock()
		d.natural[n] = s
		d.mu.Unlock()
	}
}

// SetLoading marks el as not yet loaded; FireLoad completes it.
func (d *Document) SetLoading(el dom.Element) {
	if n, err := d.nodeOf(el); err == nil {
		d.mu.Lock()
		d.pending[n] = true
		d.mu.Unlock()
	}
}

// FireLoad marks el as loaded and runs its load callbacks once.
func (d *Document) FireLoad(el dom.Element) {
	n, err := d.nodeOf(el)
	if err != nil {
		return
	}
	d.mu.Lock()
	delete(d.pending, n)
	fns := d.waiters[n]
	delete(d.waiters, n)
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Observe implements dom.MutationSource.
func (d *Document) Observe(opts dom.ObserveOptions, fn func([]dom.MutationRecord)) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("observe: nil callback")
	}
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = &observer{opts: opts, fn: fn}
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}, nil
}

func (d *Document) nodeOf(el dom.Element) (*html.Node, error) {
	e, ok := el.(*element)
	if !ok || e.doc != d {
		return nil, fmt.Errorf("element %v does not belong to this document", el)
	}
	return e.node, nil
}

func (d *Document) wrapLocked(n *html.Node) *element {
	id, ok := d.ids[n]
	if !ok {
		d.nextID++
		id = d.nextID
		d.ids[n] = id
		d.nodes[id] = n
	}
	return &element{doc: d, node: n, id: id}
}

func (d *Document) enqueueLocked(rec dom.MutationRecord) {
	for _, o := range d.observers {
		if rec.Kind == dom.MutationAttributes && !o.opts.AttributeWanted(rec.AttributeName) {
			continue
		}
		d.queue = append(d.queue, delivery{obs: o, records: []dom.MutationRecord{rec}})
	}
}

// flush drains queued deliveries. Only one goroutine drains at a time; a
// re-entrant mutation from inside a callback is picked up by the active
// drainer.
func (d *Document) flush() {
	d.mu.Lock()
	if d.delivering {
		d.mu.Unlock()
		return
	}
	d.delivering = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		next.obs.fn(next.records)
		d.mu.Lock()
	}
	d.pruneLocked()
	d.delivering = false
	d.mu.Unlock()
}

// pruneLocked drops every record of detached subtrees so handles to them
// stop resolving and their nodes can be collected.
func (d *Document) pruneLocked() {
	for _, root := range d.detached {
		if d.connectedLocked(root) {
			continue
		}
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if id, ok := d.ids[n]; ok {
				delete(d.ids, n)
				delete(d.nodes, id)
			}
			delete(d.layout, n)
			delete(d.natural, n)
			delete(d.pending, n)
			delete(d.waiters, n)
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(root)
	}
	d.detached = nil
}

func (d *Document) connectedLocked(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// rectLocked derives a box from explicit layout, visibility hints and the
// width/height attributes. Y is the document-order index so candidates
// sort top to bottom.
func (d *Document) rectLocked(n *html.Node) dom.Rect {
	if r, ok := d.layout[n]; ok {
		return r
	}
	if !d.connectedLocked(n) || hidden(n) {
		return dom.Rect{}
	}
	return dom.Rect{
		Y:      float64(d.orderLocked(n)),
		Width:  attrFloat(n, "width"),
		Height: attrFloat(n, "height"),
	}
}

func (d *Document) orderLocked(target *html.Node) int {
	i := 0
	found := -1
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found >= 0 {
			return
		}
		if n == target {
			found = i
			return
		}
		i++
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return found
}

func hidden(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if _, ok := getAttr(p, "hidden"); ok {
			return true
		}
		style, _ := getAttr(p, "style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") {
			return true
		}
	}
	return false
}

func attrFloat(n *html.Node, name string) float64 {
	v, ok := getAttr(n, name)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}
