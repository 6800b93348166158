package detector

import (
	"regexp"
	"strings"

	"github.com/user/lumos/internal/dom"
)

// ProcessedAttr marks elements the pipeline already handled.
const ProcessedAttr = "data-lumos-processed"

var excludePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)logo`),
	regexp.MustCompile(`(?i)icon`),
	regexp.MustCompile(`(?i)banner`),
	regexp.MustCompile(`(?i)button`),
	regexp.MustCompile(`(?i)badge`),
	regexp.MustCompile(`(?i)thumbnail`),
	regexp.MustCompile(`(?i)sprite`),
}

var meaninglessAlt = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*$`),
	regexp.MustCompile(`(?i)^image$`),
	regexp.MustCompile(`(?i)^img_?\d+`),
	regexp.MustCompile(`(?i)^detail`),
	regexp.MustCompile(`(?i)^상세`),
	regexp.MustCompile(`(?i)^상품 이미지$`),
}

// Thresholds bound the size and shape of a detail image.
type Thresholds struct {
	MinWidth       float64
	MinHeight      float64
	MinArea        float64
	MinAspectRatio float64
	MaxAspectRatio float64
}

// DefaultThresholds favour tall product-detail images and reject banners
// and icons.
var DefaultThresholds = Thresholds{
	MinWidth:       200,
	MinHeight:      500,
	MinArea:        100_000,
	MinAspectRatio: 0.3,
	MaxAspectRatio: 1.5,
}

// IsMeaninglessAlt reports whether alt is blank or placeholder text.
func IsMeaninglessAlt(alt string) bool {
	alt = strings.TrimSpace(alt)
	for _, p := range meaninglessAlt {
		if p.MatchString(alt) {
			return true
		}
	}
	return false
}

// AccessibleName returns the text assistive technology announces for an
// image: a non-blank aria-label wins over alt.
func AccessibleName(el dom.Element) string {
	if label, ok := el.Attr("aria-label"); ok && strings.TrimSpace(label) != "" {
		return strings.TrimSpace(label)
	}
	alt, _ := el.Attr("alt")
	return strings.TrimSpace(alt)
}

// IsProcessed reports whether the pipeline marked el.
func IsProcessed(el dom.Element) bool {
	v, _ := el.Attr(ProcessedAttr)
	return v == "true"
}

// ValidImageURL rejects empty, inline and decorative sources.
func ValidImageURL(src string) bool {
	src = strings.TrimSpace(src)
	if src == "" {
		return false
	}
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return false
	}
	for _, p := range excludePatterns {
		if p.MatchString(src) {
			return false
		}
	}
	return true
}

// ImageSize returns the natural size, falling back per axis to the rendered
// box while the natural size is unknown.
func ImageSize(el dom.Element) dom.Size {
	natural := el.NaturalSize()
	rect := el.BoundingRect()
	size := natural
	if size.Width <= 0 {
		size.Width = rect.Width
	}
	if size.Height <= 0 {
		size.Height = rect.Height
	}
	return size
}

// FitsSize applies the width, height, area and aspect-ratio bounds.
func (t Thresholds) FitsSize(size dom.Size) bool {
	if size.Width < t.MinWidth || size.Height < t.MinHeight {
		return false
	}
	if size.Width*size.Height < t.MinArea {
		return false
	}
	h := size.Height
	if h < 1 {
		h = 1
	}
	ratio := size.Width / h
	return ratio >= t.MinAspectRatio && ratio <= t.MaxAspectRatio
}
