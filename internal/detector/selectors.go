package detector

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/user/lumos/internal/dom"
)

// DefaultRootSelectors locate detail containers on sites without a rule.
var DefaultRootSelectors = []string{
	".se-main-container",
	"#productDetail",
	`[class*="detail"]`,
}

// SiteRule scopes detection to known detail containers on a site.
type SiteRule struct {
	// Hosts match the page hostname exactly or as a parent domain.
	Hosts     []string `mapstructure:"hosts"`
	Selectors []string `mapstructure:"selectors"`
	// NoBodyFallback keeps the document body from being used when no
	// container matches.
	NoBodyFallback bool `mapstructure:"no_body_fallback"`
}

// DefaultSiteRules cover the storefronts the extension ships for.
var DefaultSiteRules = []SiteRule{
	{
		Hosts:     []string{"smartstore.naver.com", "brand.naver.com", "shopping.naver.com"},
		Selectors: []string{".se-main-container", "#INTRODUCE", `[class*="detail"]`},
	},
	{
		Hosts:     []string{"coupang.com"},
		Selectors: []string{"#productDetail", ".product-detail-content-inside"},
	},
	{
		Hosts:          []string{"11st.co.kr"},
		Selectors:      []string{"#tabpanelDetail1", ".prdc_detail_area"},
		NoBodyFallback: true,
	},
	{
		Hosts:     []string{"gmarket.co.kr", "auction.co.kr"},
		Selectors: []string{"#vip-tab_detail", ".box__detail-view"},
	},
}

// LoadSiteRules reads rules from a YAML/JSON/TOML file with a top-level
// `sites` list.
func LoadSiteRules(path string) ([]SiteRule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read site rules %s: %w", path, err)
	}
	var file struct {
		Sites []SiteRule `mapstructure:"sites"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode site rules %s: %w", path, err)
	}
	for i, r := range file.Sites {
		if len(r.Hosts) == 0 || len(r.Selectors) == 0 {
			return nil, fmt.Errorf("site rule %d: hosts and selectors are required", i)
		}
	}
	return file.Sites, nil
}

// matches reports whether host is one of the rule's hosts or a subdomain
// of one.
func (r SiteRule) matches(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, h := range r.Hosts {
		h = strings.ToLower(strings.TrimPrefix(h, "."))
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// ruleFor returns the first rule matching host.
func ruleFor(rules []SiteRule, host string) (SiteRule, bool) {
	for _, r := range rules {
		if r.matches(host) {
			return r, true
		}
	}
	return SiteRule{}, false
}

func queryRoots(doc dom.Document, selectors []string) []dom.Element {
	seen := make(map[dom.ElementID]bool)
	var roots []dom.Element
	for _, sel := range selectors {
		for _, el := range doc.QueryAll(sel) {
			if seen[el.ID()] {
				continue
			}
			seen[el.ID()] = true
			roots = append(roots, el)
		}
	}
	return roots
}
