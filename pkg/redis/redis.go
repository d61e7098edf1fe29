package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ikkim/storecover-backend/config"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const blacklistPrefix = "storecover:revoked:"

var client *redis.Client

// Init initializes the Redis connection.
func Init(cfg *config.RedisConfig) error {
	logger.Info("Initializing Redis connection", map[string]interface{}{
		"host": cfg.Host,
		"port": cfg.Port,
		"db":   cfg.DB,
	})

	client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", err, map[string]interface{}{
			"host": cfg.Host,
			"port": cfg.Port,
		})
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established successfully")
	return nil
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	return client
}

// Close closes the Redis connection
func Close() error {
	if client != nil {
		logger.Info("Closing Redis connection")
		return client.Close()
	}
	return nil
}

// TokenBlacklist records revoked tokens until they would have expired anyway.
// Tokens are stored hashed.
type TokenBlacklist struct {
	client *redis.Client
}

func NewTokenBlacklist(c *redis.Client) *TokenBlacklist {
	return &TokenBlacklist{client: c}
}

func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return blacklistPrefix + hex.EncodeToString(sum[:])
}

// Revoke blacklists token for ttl. A non-positive ttl is a no-op since the
// token is already expired.
func (b *TokenBlacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	logger.Debug("Adding token to blacklist", map[string]interface{}{
		"expiry": ttl.String(),
	})

	if err := b.client.Set(ctx, blacklistKey(token), "revoked", ttl).Err(); err != nil {
		logger.Error("Failed to blacklist token", err)
		return err
	}
	return nil
}

func (b *TokenBlacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	val, err := b.client.Get(ctx, blacklistKey(token)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		logger.Error("Failed to check token blacklist", err)
		return false, err
	}
	return val == "revoked", nil
}
