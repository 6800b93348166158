// Package detector decides which images on a page are product-detail
// images worth describing.
package detector

import (
	"net/url"
	"sort"
	"strings"

	"github.com/user/lumos/internal/dom"
	"github.com/user/lumos/pkg/utils"
)

// Config holds the detection heuristics.
type Config struct {
	Thresholds    Thresholds
	RootSelectors []string
	SiteRules     []SiteRule
}

// DefaultConfig returns the built-in thresholds, selectors and site rules.
func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds,
		RootSelectors: append([]string(nil), DefaultRootSelectors...),
		SiteRules:     append([]SiteRule(nil), DefaultSiteRules...),
	}
}

// Detector is stateless; the same DOM snapshot always yields the same
// answer.
type Detector struct {
	cfg Config
}

// New creates a Detector. Zero-valued parts of cfg take their defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if len(cfg.RootSelectors) == 0 {
		cfg.RootSelectors = def.RootSelectors
	}
	if cfg.SiteRules == nil {
		cfg.SiteRules = def.SiteRules
	}
	return &Detector{cfg: cfg}
}

// Roots resolves the detail containers for doc: the matching site rule's
// selectors first, then the generic selectors, then the body unless the
// rule forbids it.
func (d *Detector) Roots(doc dom.Document) []dom.Element {
	rule, hasRule := ruleFor(d.cfg.SiteRules, hostOf(doc.URL()))
	if hasRule {
		if roots := queryRoots(doc, rule.Selectors); len(roots) > 0 {
			return roots
		}
	}
	if roots := queryRoots(doc, d.cfg.RootSelectors); len(roots) > 0 {
		return roots
	}
	if hasRule && rule.NoBodyFallback {
		return nil
	}
	if body := doc.Body(); body != nil {
		return []dom.Element{body}
	}
	return nil
}

// IsCandidate reports whether el should be sent for analysis.
func (d *Detector) IsCandidate(el dom.Element, doc dom.Document) bool {
	if !d.qualifies(el, doc) {
		return false
	}
	for _, root := range d.Roots(doc) {
		if root.Contains(el) {
			return true
		}
	}
	return false
}

// DetectCandidates returns every candidate under the detail roots, once
// each, ordered top to bottom.
func (d *Detector) DetectCandidates(doc dom.Document) []dom.Element {
	seen := make(map[dom.ElementID]bool)
	var out []dom.Element
	for _, root := range d.Roots(doc) {
		imgs := root.Descendants("img")
		if strings.EqualFold(root.TagName(), "img") {
			imgs = append([]dom.Element{root}, imgs...)
		}
		for _, img := range imgs {
			if seen[img.ID()] {
				continue
			}
			seen[img.ID()] = true
			if d.qualifies(img, doc) {
				out = append(out, img)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BoundingRect().Y < out[j].BoundingRect().Y
	})
	return out
}

// qualifies checks every condition except detail-root membership.
func (d *Detector) qualifies(el dom.Element, doc dom.Document) bool {
	if el == nil || !strings.EqualFold(el.TagName(), "img") {
		return false
	}
	if IsProcessed(el) {
		return false
	}
	src := el.CurrentSrc()
	if !ValidImageURL(src) {
		return false
	}
	if resolved, err := utils.NormalizeURL(doc.URL(), src); err != nil || resolved == "" {
		return false
	}
	if !IsMeaninglessAlt(AccessibleName(el)) {
		return false
	}
	if el.BoundingRect().Empty() {
		return false
	}
	return d.cfg.Thresholds.FitsSize(ImageSize(el))
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
