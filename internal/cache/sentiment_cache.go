package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/irfndi/regimebot/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SentimentCacheEntry is a cached sentiment reading with metadata.
type SentimentCacheEntry struct {
	Sentiment models.Sentiment `json:"sentiment"`
	CachedAt  time.Time        `json:"cached_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// CacheStats tracks cache hits and misses.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	mu     sync.RWMutex
}

// RedisSentimentCache keeps the last Fear & Greed reading in Redis so
// back-to-back cycles do not hammer the public API.
type RedisSentimentCache struct {
	redis  *redis.Client
	ttl    time.Duration
	stats  *CacheStats
	key    string
	now    func() time.Time
	logger *logrus.Logger
}

// NewRedisSentimentCache creates a sentiment cache scoped to a symbol.
func NewRedisSentimentCache(redisClient *redis.Client, ttl time.Duration, symbol string, logger *logrus.Logger) *RedisSentimentCache {
	return &RedisSentimentCache{
		redis:  redisClient,
		ttl:    ttl,
		stats:  &CacheStats{},
		key:    "regimebot:sentiment:" + strings.ToLower(strings.ReplaceAll(symbol, "/", "_")),
		now:    time.Now,
		logger: logger,
	}
}

// Get returns the cached reading, or nil on a miss or expired entry.
func (c *RedisSentimentCache) Get(ctx context.Context) (*models.Sentiment, error) {
	data, err := c.redis.Get(ctx, c.key).Result()
	if err == redis.Nil {
		c.miss()
		return nil, nil
	}
	if err != nil {
		c.miss()
		return nil, fmt.Errorf("failed to read sentiment cache: %w", err)
	}

	var entry SentimentCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.miss()
		c.logger.WithError(err).Warn("Discarding undecodable sentiment cache entry")
		return nil, nil
	}

	// Redis TTL should already have evicted it; guard against clock skew.
	if c.now().After(entry.ExpiresAt) {
		c.miss()
		return nil, nil
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()

	return &entry.Sentiment, nil
}

// Set stores the reading with the configured TTL.
func (c *RedisSentimentCache) Set(ctx context.Context, s models.Sentiment) error {
	now := c.now()
	entry := SentimentCacheEntry{
		Sentiment: s,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize sentiment: %w", err)
	}
	if err := c.redis.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write sentiment cache: %w", err)
	}

	c.stats.mu.Lock()
	c.stats.Sets++
	c.stats.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"class": s.Class,
		"value": s.Value,
		"ttl":   c.ttl,
	}).Debug("Cached sentiment reading")
	return nil
}

// Clear drops the cached reading.
func (c *RedisSentimentCache) Clear(ctx context.Context) error {
	if err := c.redis.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("error clearing sentiment cache: %w", err)
	}
	return nil
}

// GetStats returns current cache statistics.
func (c *RedisSentimentCache) GetStats() CacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return CacheStats{
		Hits:   c.stats.Hits,
		Misses: c.stats.Misses,
		Sets:   c.stats.Sets,
	}
}

func (c *RedisSentimentCache) miss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}
