// Package injector writes generated descriptions onto image elements and
// undoes them.
package injector

import (
	"strconv"
	"strings"
	"time"

	"github.com/user/lumos/internal/detector"
	"github.com/user/lumos/internal/dom"
)

// Bookkeeping attributes owned by the pipeline.
const (
	AttrProcessed         = detector.ProcessedAttr
	AttrInjected          = "data-lumos-injected"
	AttrInjectedAt        = "data-lumos-injected-at"
	AttrOriginalSaved     = "data-lumos-original-saved"
	AttrOriginalAlt       = "data-lumos-original-alt"
	AttrOriginalAriaLabel = "data-lumos-original-aria-label"
	AttrLoadBound         = "data-lumos-load-bound"
)

var markers = []string{
	AttrProcessed,
	AttrInjected,
	AttrInjectedAt,
	AttrOriginalSaved,
	AttrOriginalAlt,
	AttrOriginalAriaLabel,
	AttrLoadBound,
}

// Reason explains the outcome of Apply.
type Reason string

const (
	ReasonApplied       Reason = "applied"
	ReasonEmptyText     Reason = "skipped-empty-text"
	ReasonDisconnected  Reason = "skipped-disconnected"
	ReasonMeaningfulAlt Reason = "skipped-meaningful-alt"
	ReasonNoop          Reason = "skipped-noop"
)

// Result is the outcome of Apply.
type Result struct {
	Applied bool
	Reason  Reason
	Text    string
}

// Injector applies descriptions. The zero value uses time.Now.
type Injector struct {
	now func() time.Time
}

// New returns an Injector stamping with now (time.Now when nil).
func New(now func() time.Time) *Injector {
	return &Injector{now: now}
}

// NormalizeText collapses whitespace runs and trims.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Apply writes text as the element's alt and aria-label unless the element
// is gone, already carries an author-written name, or already shows text.
func (i *Injector) Apply(el dom.Element, raw string) (Result, error) {
	text := NormalizeText(raw)
	if text == "" {
		return Result{Reason: ReasonEmptyText}, nil
	}
	if !el.IsConnected() {
		return Result{Reason: ReasonDisconnected, Text: text}, nil
	}

	injected := isTrue(el, AttrInjected)
	if name := detector.AccessibleName(el); !injected && !detector.IsMeaninglessAlt(name) {
		return Result{Reason: ReasonMeaningfulAlt, Text: text}, nil
	}

	alt, _ := el.Attr("alt")
	label, _ := el.Attr("aria-label")
	if strings.TrimSpace(alt) == text && label == text {
		if err := setIfChanged(el, AttrProcessed, "true"); err != nil {
			return Result{}, err
		}
		return Result{Reason: ReasonNoop, Text: text}, nil
	}

	if err := i.saveOriginals(el); err != nil {
		return Result{}, err
	}
	for _, kv := range [][2]string{
		{"alt", text},
		{"aria-label", text},
		{AttrProcessed, "true"},
		{AttrInjected, "true"},
		{AttrInjectedAt, strconv.FormatInt(i.clock().UnixMilli(), 10)},
	} {
		if err := el.SetAttr(kv[0], kv[1]); err != nil {
			return Result{}, err
		}
	}
	return Result{Applied: true, Reason: ReasonApplied, Text: text}, nil
}

// Restore puts back the attributes the element had before the first
// injection and removes every bookkeeping marker. Elements never injected
// only lose their markers.
func (i *Injector) Restore(el dom.Element) error {
	if isTrue(el, AttrInjected) && isTrue(el, AttrOriginalSaved) {
		if err := restoreAttr(el, "alt", AttrOriginalAlt); err != nil {
			return err
		}
		if err := restoreAttr(el, "aria-label", AttrOriginalAriaLabel); err != nil {
			return err
		}
	}
	for _, name := range markers {
		if _, ok := el.Attr(name); !ok {
			continue
		}
		if err := el.RemoveAttr(name); err != nil {
			return err
		}
	}
	return nil
}

// saveOriginals records alt and aria-label the first time only.
func (i *Injector) saveOriginals(el dom.Element) error {
	if isTrue(el, AttrOriginalSaved) {
		return nil
	}
	if v, ok := el.Attr("alt"); ok {
		if err := el.SetAttr(AttrOriginalAlt, v); err != nil {
			return err
		}
	}
	if v, ok := el.Attr("aria-label"); ok {
		if err := el.SetAttr(AttrOriginalAriaLabel, v); err != nil {
			return err
		}
	}
	return el.SetAttr(AttrOriginalSaved, "true")
}

func (i *Injector) clock() time.Time {
	if i == nil || i.now == nil {
		return time.Now()
	}
	return i.now()
}

func restoreAttr(el dom.Element, name, saved string) error {
	if v, ok := el.Attr(saved); ok {
		return el.SetAttr(name, v)
	}
	if _, ok := el.Attr(name); ok {
		return el.RemoveAttr(name)
	}
	return nil
}

func setIfChanged(el dom.Element, name, value string) error {
	if v, ok := el.Attr(name); ok && v == value {
		return nil
	}
	return el.SetAttr(name, value)
}

func isTrue(el dom.Element, name string) bool {
	v, _ := el.Attr(name)
	return v == "true"
}
