package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewRedisSentimentCache(t *testing.T) {
	_, client := setupTestRedis(t)

	cache := NewRedisSentimentCache(client, time.Hour, "BTC/USDT", quietLogger())
	assert.Equal(t, "regimebot:sentiment:btc_usdt", cache.key)
	assert.Equal(t, time.Hour, cache.ttl)
	assert.NotNil(t, cache.stats)
}

func TestRedisSentimentCache_SetGet(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()
	cache := NewRedisSentimentCache(client, time.Hour, "BTC/USDT", quietLogger())

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	reading := models.Sentiment{
		Value:     0.72,
		Class:     models.SentimentGreed,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:    "alternative.me",
	}
	require.NoError(t, cache.Set(ctx, reading))
	assert.Equal(t, time.Hour, s.TTL(cache.key))

	got, err = cache.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, reading.Class, got.Class)
	assert.InDelta(t, reading.Value, got.Value, 1e-9)
	assert.True(t, reading.Timestamp.Equal(got.Timestamp))

	stats := cache.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestRedisSentimentCache_Expiry(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()
	cache := NewRedisSentimentCache(client, time.Minute, "BTC/USDT", quietLogger())

	require.NoError(t, cache.Set(ctx, models.Sentiment{Value: 0.5, Class: models.SentimentNeutral}))
	s.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSentimentCache_ExpiresAtGuard(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	cache := NewRedisSentimentCache(client, time.Minute, "BTC/USDT", quietLogger())

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }
	require.NoError(t, cache.Set(ctx, models.Sentiment{Value: 0.5, Class: models.SentimentNeutral}))

	cache.now = func() time.Time { return base.Add(time.Hour) }
	got, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSentimentCache_CorruptEntry(t *testing.T) {
	s, client := setupTestRedis(t)
	cache := NewRedisSentimentCache(client, time.Minute, "BTC/USDT", quietLogger())
	require.NoError(t, s.Set(cache.key, "{not json"))

	got, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSentimentCache_ServerDown(t *testing.T) {
	s, client := setupTestRedis(t)
	cache := NewRedisSentimentCache(client, time.Minute, "BTC/USDT", quietLogger())
	s.Close()

	got, err := cache.Get(context.Background())
	assert.Error(t, err)
	assert.Nil(t, got)
	assert.Error(t, cache.Set(context.Background(), models.Sentiment{}))
}

func TestRedisSentimentCache_Clear(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()
	cache := NewRedisSentimentCache(client, time.Minute, "BTC/USDT", quietLogger())

	require.NoError(t, cache.Set(ctx, models.Sentiment{Value: 0.1, Class: models.SentimentExtremeFear}))
	require.NoError(t, cache.Clear(ctx))
	assert.False(t, s.Exists(cache.key))
}
