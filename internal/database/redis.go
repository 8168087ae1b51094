package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RedisClient struct {
	Client *redis.Client
	logger *logrus.Logger
}

func NewRedisConnection(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis")

	return &RedisClient{Client: rdb, logger: logger}, nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client, logger *logrus.Logger) *RedisClient {
	return &RedisClient{Client: client, logger: logger}
}

func (r *RedisClient) Close() {
	if r.Client != nil {
		r.Client.Close()
		r.logger.Info("Redis connection closed")
	}
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// HeartbeatKey is the mirror key for a symbol's heartbeat.
func HeartbeatKey(symbol string) string {
	return "regimebot:heartbeat:" + strings.ToLower(strings.ReplaceAll(symbol, "/", "_"))
}

// MirrorHeartbeat copies the heartbeat into Redis. The TTL makes the key
// disappear when cycles stop, so probes see staleness as absence.
func (r *RedisClient) MirrorHeartbeat(ctx context.Context, symbol string, hb models.Heartbeat, ttl time.Duration) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to serialize heartbeat: %w", err)
	}
	if err := r.Client.Set(ctx, HeartbeatKey(symbol), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to mirror heartbeat: %w", err)
	}
	return nil
}

// ReadHeartbeat returns the mirrored heartbeat, or nil when absent.
func (r *RedisClient) ReadHeartbeat(ctx context.Context, symbol string) (*models.Heartbeat, error) {
	data, err := r.Client.Get(ctx, HeartbeatKey(symbol)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeat mirror: %w", err)
	}
	var hb models.Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeat mirror: %w", err)
	}
	return &hb, nil
}
