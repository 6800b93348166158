package chromedp_page

import (
	"strings"

	"go.uber.org/zap"

	"github.com/user/lumos/internal/dom"
)

// element is a handle into the page registry. Every method is a round trip
// to the tab.
type element struct {
	page *Page
	id   dom.ElementID
}

func (e *element) ID() dom.ElementID { return e.id }

func (e *element) TagName() string {
	var tag string
	e.read(&tag, "tag", int64(e.id))
	return tag
}

func (e *element) Attr(name string) (string, bool) {
	var v *string
	e.read(&v, "attr", int64(e.id), name)
	if v == nil {
		return "", false
	}
	return *v, true
}

func (e *element) SetAttr(name, value string) error {
	return e.write("setAttr", int64(e.id), name, value)
}

func (e *element) RemoveAttr(name string) error {
	return e.write("removeAttr", int64(e.id), name)
}

func (e *element) IsConnected() bool {
	var ok bool
	e.read(&ok, "connected", int64(e.id))
	return ok
}

func (e *element) CurrentSrc() string {
	var src string
	e.read(&src, "src", int64(e.id))
	return strings.TrimSpace(src)
}

func (e *element) BoundingRect() dom.Rect {
	var r struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	e.read(&r, "rect", int64(e.id))
	return dom.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

func (e *element) NaturalSize() dom.Size {
	var s struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	e.read(&s, "natural", int64(e.id))
	return dom.Size{Width: s.Width, Height: s.Height}
}

func (e *element) Complete() bool {
	complete := true
	e.read(&complete, "complete", int64(e.id))
	return complete
}

func (e *element) OnceLoaded(fn func()) {
	e.page.onceLoaded(e.id, fn)
}

func (e *element) Descendants(tag string) []dom.Element {
	var ids []int64
	e.read(&ids, "descendants", int64(e.id), strings.ToLower(tag))
	return e.page.elements(ids)
}

func (e *element) Contains(other dom.Element) bool {
	if other == nil {
		return false
	}
	var ok bool
	e.read(&ok, "contains", int64(e.id), int64(other.ID()))
	return ok
}

// read ignores failures: a tab that went away reads as an empty element.
func (e *element) read(out any, method string, args ...any) {
	if err := e.page.call(out, method, args...); err != nil {
		e.page.logger.Debug("Element read failed", zap.String("method", method), zap.Error(err))
	}
}

func (e *element) write(method string, args ...any) error {
	var ok bool
	if err := e.page.call(&ok, method, args...); err != nil {
		return err
	}
	if !ok {
		return dom.ErrDetached
	}
	return nil
}

type liveRegion struct {
	page *Page
	id   dom.ElementID
}

func (r *liveRegion) SetText(text string) error {
	var ok bool
	if err := r.page.call(&ok, "setText", int64(r.id), text); err != nil {
		return err
	}
	if !ok {
		return dom.ErrDetached
	}
	return nil
}

func (r *liveRegion) Text() string {
	var text string
	if err := r.page.call(&text, "text", int64(r.id)); err != nil {
		return ""
	}
	return text
}

func (r *liveRegion) Remove() error {
	var ok bool
	return r.page.call(&ok, "remove", int64(r.id))
}
