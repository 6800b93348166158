// Package dom defines the document boundary the pipeline works against.
// Implementations live in internal/dom/vdom (in-memory HTML tree) and
// internal/adapter/chromedp_page (a live Chrome tab).
package dom

import "errors"

// ElementID is an opaque, non-owning handle for an element. Zero is never a
// valid handle.
type ElementID int64

// ErrDetached is returned by write operations on elements that are no longer
// part of a document the implementation can reach.
var ErrDetached = errors.New("element is detached")

// Rect is the rendered border box of an element in CSS pixels.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Empty reports whether the box has no rendered area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Size is an intrinsic (natural) image size in pixels.
type Size struct {
	Width  float64
	Height float64
}

// Element is the subset of a DOM element the pipeline reads and writes.
type Element interface {
	ID() ElementID
	TagName() string
	Attr(name string) (string, bool)
	SetAttr(name, value string) error
	RemoveAttr(name string) error
	IsConnected() bool
	// CurrentSrc returns the source the element currently displays, as
	// written in the document (possibly relative).
	CurrentSrc() string
	BoundingRect() Rect
	NaturalSize() Size
	// Complete reports whether the image finished loading.
	Complete() bool
	// OnceLoaded registers fn to run a single time when the element fires
	// its load event.
	OnceLoaded(fn func())
	// Descendants returns the descendants with the given lower-case tag.
	Descendants(tag string) []Element
	// Contains reports whether other is this element or one of its
	// descendants.
	Contains(other Element) bool
}

// LiveRegion is an assistive-technology status region owned by the caller.
type LiveRegion interface {
	SetText(text string) error
	Text() string
	Remove() error
}

// Document is a page the pipeline runs against.
type Document interface {
	// URL is the absolute page URL used to resolve relative sources.
	URL() string
	Body() Element
	// QueryAll returns every element matching a CSS selector, in document
	// order.
	QueryAll(selector string) []Element
	// ElementByID resolves a handle. It returns false once the
	// implementation no longer tracks the element.
	ElementByID(id ElementID) (Element, bool)
	CreateLiveRegion() (LiveRegion, error)
}
