package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/pkg/utils"
)

const altTextPrefix = "alttext:"

var _ repository.AnalysisCacheRepository = (*AnalysisCacheRepoImpl)(nil)

// AnalysisCacheRepoImpl stores accepted descriptions in Redis strings.
type AnalysisCacheRepoImpl struct {
	client *redis.Client
}

// NewAnalysisCacheRepo creates a new instance of AnalysisCacheRepoImpl.
func NewAnalysisCacheRepo(client *redis.Client) *AnalysisCacheRepoImpl {
	return &AnalysisCacheRepoImpl{client: client}
}

// generateKey hashes the URL so arbitrarily long URLs map to short keys.
func (r *AnalysisCacheRepoImpl) generateKey(imageURL string) string {
	return fmt.Sprintf("%s%s", altTextPrefix, utils.HashURL(imageURL))
}

// Get returns the cached text for imageURL. A missing key is a miss, not an
// error.
func (r *AnalysisCacheRepoImpl) Get(ctx context.Context, imageURL string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.generateKey(imageURL)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores altText with the given expiry. A zero expiry keeps the key
// forever.
func (r *AnalysisCacheRepoImpl) Set(ctx context.Context, imageURL, altText string, expiry time.Duration) error {
	return r.client.Set(ctx, r.generateKey(imageURL), altText, expiry).Err()
}

// Delete drops the cached text, used to force a fresh analysis.
func (r *AnalysisCacheRepoImpl) Delete(ctx context.Context, imageURL string) error {
	return r.client.Del(ctx, r.generateKey(imageURL)).Err()
}
