package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares resolved cities between monitor instances.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis at addr and checks the connection.
func NewRedisCache(addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func cityKey(auctioneerID string) string {
	return "city:" + auctioneerID
}

// GetCity returns the cached city and whether it was present.
func (r *RedisCache) GetCity(ctx context.Context, auctioneerID string) (string, bool, error) {
	city, err := r.client.Get(ctx, cityKey(auctioneerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return city, true, nil
}

// SetCity stores a city with a TTL.
func (r *RedisCache) SetCity(ctx context.Context, auctioneerID, city string, ttl time.Duration) error {
	return r.client.Set(ctx, cityKey(auctioneerID), city, ttl).Err()
}
