package vdom

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/user/lumos/internal/dom"
)

type element struct {
	doc  *Document
	node *html.Node
	id   dom.ElementID
}

var _ dom.Element = (*element)(nil)

func (e *element) ID() dom.ElementID { return e.id }

func (e *element) TagName() string { return e.node.Data }

func (e *element) String() string { return "<" + e.node.Data + ">" }

func (e *element) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return getAttr(e.node, name)
}

func (e *element) SetAttr(name, value string) error {
	e.doc.mu.Lock()
	replaced := false
	for i, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			e.node.Attr[i].Val = value
			replaced = true
			break
		}
	}
	if !replaced {
		e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
	}
	e.doc.enqueueLocked(dom.MutationRecord{
		Kind:          dom.MutationAttributes,
		Target:        e.doc.wrapLocked(e.node),
		AttributeName: name,
	})
	e.doc.mu.Unlock()

	e.doc.flush()
	return nil
}

func (e *element) RemoveAttr(name string) error {
	e.doc.mu.Lock()
	kept := e.node.Attr[:0]
	removed := false
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	e.node.Attr = kept
	if removed {
		e.doc.enqueueLocked(dom.MutationRecord{
			Kind:          dom.MutationAttributes,
			Target:        e.doc.wrapLocked(e.node),
			AttributeName: name,
		})
	}
	e.doc.mu.Unlock()

	e.doc.flush()
	return nil
}

func (e *element) IsConnected() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.connectedLocked(e.node)
}

func (e *element) CurrentSrc() string {
	v, _ := e.Attr("src")
	return strings.TrimSpace(v)
}

func (e *element) BoundingRect() dom.Rect {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.rectLocked(e.node)
}

func (e *element) NaturalSize() dom.Size {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.natural[e.node]
}

func (e *element) Complete() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return !e.doc.pending[e.node]
}

func (e *element) OnceLoaded(fn func()) {
	e.doc.mu.Lock()
	e.doc.waiters[e.node] = append(e.doc.waiters[e.node], fn)
	e.doc.mu.Unlock()
}

func (e *element) Descendants(tag string) []dom.Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	tag = strings.ToLower(tag)
	var out []dom.Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == tag {
				out = append(out, e.doc.wrapLocked(c))
			}
			walk(c)
		}
	}
	walk(e.node)
	return out
}

func (e *element) Contains(other dom.Element) bool {
	o, ok := other.(*element)
	if !ok || o.doc != e.doc {
		return false
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for p := o.node; p != nil; p = p.Parent {
		if p == e.node {
			return true
		}
	}
	return false
}

// liveRegion is a visually hidden status div appended to the body.
type liveRegion struct {
	el *element
}

func (d *Document) CreateLiveRegion() (dom.LiveRegion, error) {
	body := d.Body()
	if body == nil {
		return nil, dom.ErrDetached
	}
	added, err := d.AppendHTML(body, `<div role="status" aria-live="polite" aria-atomic="true" data-lumos-live-region="true" style="position:absolute;width:1px;height:1px;overflow:hidden;clip:rect(0 0 0 0)"></div>`)
	if err != nil {
		return nil, err
	}
	if len(added) != 1 {
		return nil, dom.ErrDetached
	}
	return &liveRegion{el: added[0].(*element)}, nil
}

func (r *liveRegion) SetText(text string) error {
	d := r.el.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	n := r.el.node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return nil
}

func (r *liveRegion) Text() string {
	d := r.el.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	for c := r.el.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func (r *liveRegion) Remove() error {
	if !r.el.IsConnected() {
		return nil
	}
	return r.el.doc.Remove(r.el)
}
