package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

type Client struct {
	*goredis.Client
	logger *logger.Logger
}

func Connect(cfg config.RedisConfig, log *logger.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Infof("✅ Connected to Redis %s", cfg.Addr())
	return &Client{Client: rdb, logger: log}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *goredis.Client, log *logger.Logger) *Client {
	return &Client{Client: rdb, logger: log}
}

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

// CheckIdempotency reports whether the key was already used.
func (c *Client) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	n, err := c.Exists(ctx, idempotencyKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) SetIdempotency(ctx context.Context, key string, ttl time.Duration) error {
	return c.Set(ctx, idempotencyKey(key), "1", ttl).Err()
}

// ClaimIdempotency sets the key only if it is unused; false means duplicate.
func (c *Client) ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, idempotencyKey(key), "1", ttl).Result()
}

func balanceKey(walletKey string) string {
	return "balance:" + walletKey
}

func (c *Client) CacheWalletBalance(ctx context.Context, walletKey, balance string, ttl time.Duration) error {
	return c.Set(ctx, balanceKey(walletKey), balance, ttl).Err()
}

// GetCachedWalletBalance returns "" without error on a cache miss.
func (c *Client) GetCachedWalletBalance(ctx context.Context, walletKey string) (string, error) {
	val, err := c.Get(ctx, balanceKey(walletKey)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return val, err
}

func (c *Client) InvalidateWalletBalance(ctx context.Context, walletKey string) error {
	return c.Del(ctx, balanceKey(walletKey)).Err()
}
