package repository

import (
	"context"
	"time"
)

// AnalysisCacheRepository stores accepted descriptions keyed by image URL so
// the relay can answer repeat requests across pages and sessions.
type AnalysisCacheRepository interface {
	// Get returns the cached text. A miss is ("", false, nil).
	Get(ctx context.Context, imageURL string) (string, bool, error)
	// Set stores text for imageURL with the given expiry.
	Set(ctx context.Context, imageURL, altText string, expiry time.Duration) error
}
