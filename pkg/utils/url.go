package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// HashURL creates a SHA256 hash of a URL string.
// This is useful for creating consistent, safe keys for Redis.
func HashURL(rawURL string) string {
	h := sha256.New()
	h.Write([]byte(rawURL))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL resolves raw against base and strips the fragment, giving
// the identity of an image resource. Inline data: and blob: URLs are
// returned unchanged.
func NormalizeURL(base, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return raw, nil
	}
	relURL, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if base != "" {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", err
		}
		relURL = baseURL.ResolveReference(relURL)
	}
	relURL.Fragment = ""
	relURL.RawFragment = ""
	return relURL.String(), nil
}

// IsHTTPURL reports whether raw parses as an absolute http(s) URL.
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
