package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
)

const (
	keyPrefix          = "quotedeck:estimate"
	defaultEstimateTTL = 10 * time.Minute
)

var (
	errMissingClient = errors.New("cache: redis client is required")
)

// Commander is the subset of the redis client used by the estimate cache.
type Commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// EstimateCache keeps computed estimates in redis under a key derived from the
// project, the requirements timestamp and the active rate card.
type EstimateCache struct {
	client Commander
	ttl    time.Duration
}

// NewEstimateCache wraps a redis client. A non-positive ttl uses the default.
func NewEstimateCache(client Commander, ttl time.Duration) (*EstimateCache, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if ttl <= 0 {
		ttl = defaultEstimateTTL
	}
	return &EstimateCache{client: client, ttl: ttl}, nil
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return redis.NewClient(options), nil
}

// Key renders the redis key of a cache entry.
func Key(key quotes.EstimateCacheKey) string {
	return fmt.Sprintf("%s:%s:%d:%s", keyPrefix, key.ProjectID, key.RequirementsUpdatedAt.UnixNano(), key.RateCardID)
}

// Get returns the cached estimate. A missing entry is not an error.
func (c *EstimateCache) Get(ctx context.Context, key quotes.EstimateCacheKey) (quotes.Estimate, bool, error) {
	payload, err := c.client.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return quotes.Estimate{}, false, nil
	}
	if err != nil {
		return quotes.Estimate{}, false, fmt.Errorf("cache: get estimate: %w", err)
	}
	var estimate quotes.Estimate
	if err := json.Unmarshal(payload, &estimate); err != nil {
		return quotes.Estimate{}, false, fmt.Errorf("cache: decode estimate: %w", err)
	}
	return estimate, true, nil
}

// Set stores the estimate with the configured expiry.
func (c *EstimateCache) Set(ctx context.Context, key quotes.EstimateCacheKey, estimate quotes.Estimate) error {
	payload, err := json.Marshal(estimate)
	if err != nil {
		return fmt.Errorf("cache: encode estimate: %w", err)
	}
	if err := c.client.Set(ctx, Key(key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set estimate: %w", err)
	}
	return nil
}
