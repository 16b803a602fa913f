package cache

import (
	"context"
	"time"

	"harmoni-service/internal/config"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned when a key is absent or expired.
var ErrKeyNotFound = errors.New("key not found")

type Client struct {
	client *redis.Client
}

func NewClient(cfg config.Redis) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "pinging redis")
	}

	return &Client{client: client}, nil
}

func (c *Client) SetString(ctx context.Context, key, value string, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "getting key %s", key)
	}
	return value, nil
}

// SetNX sets the key only if it does not exist. Returns false when the key
// was already present.
func (c *Client) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, expiration).Result()
	return ok, errors.Wrapf(err, "setnx key %s", key)
}

// Incr increments the counter at key, setting the expiration on first use.
func (c *Client) Incr(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "incrementing key %s", key)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, expiration).Err(); err != nil {
			return count, errors.Wrapf(err, "expiring key %s", key)
		}
	}
	return count, nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}
