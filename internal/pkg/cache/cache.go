package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/ManuelReschke/subsync/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	subscriptionKeyPrefix  = "subsync:subscription:"
	DefaultSubscriptionTTL = 60 * time.Second
)

// Config holds the connection settings of the Redis-compatible cache.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ConfigFromEnv reads CACHE_HOST, CACHE_PORT and CACHE_PASSWORD.
func ConfigFromEnv() Config {
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	return Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClient connects to the cache server. A failed ping is only logged; the
// caller decides whether to run without a cache.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache at %s: %v", cfg.Addr(), err)
		return client, err
	}
	log.Infof("[Cache] Successfully connected to cache: %s", pong)
	return client, nil
}

// SubscriptionCache is a write-through cache of subscription snapshots keyed
// by user id. A stored null means the user has no subscription.
type SubscriptionCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewSubscriptionCache creates a cache with the given entry TTL.
func NewSubscriptionCache(client redis.Cmdable, ttl time.Duration) *SubscriptionCache {
	if ttl <= 0 {
		ttl = DefaultSubscriptionTTL
	}
	return &SubscriptionCache{client: client, ttl: ttl}
}

type entry struct {
	Subscription *models.BillingSubscription `json:"subscription"`
}

// SubscriptionKey returns the cache key of a user's snapshot.
func SubscriptionKey(userID string) string {
	return subscriptionKeyPrefix + userID
}

// Get returns the cached snapshot and whether the key was present.
func (c *SubscriptionCache) Get(ctx context.Context, userID string) (*models.BillingSubscription, bool, error) {
	raw, err := c.client.Get(ctx, SubscriptionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	sub, err := decodeEntry(raw)
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// Set stores the snapshot, or a null marker when sub is nil.
func (c *SubscriptionCache) Set(ctx context.Context, userID string, sub *models.BillingSubscription) error {
	raw, err := encodeEntry(sub)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, SubscriptionKey(userID), raw, c.ttl).Err()
}

// Fill stores the snapshot only when the user has no cached entry yet, so a
// read that loaded an older row cannot overwrite a writer's newer one.
func (c *SubscriptionCache) Fill(ctx context.Context, userID string, sub *models.BillingSubscription) error {
	raw, err := encodeEntry(sub)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, SubscriptionKey(userID), raw, c.ttl).Err()
}

// Invalidate removes the cached snapshot of a user.
func (c *SubscriptionCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, SubscriptionKey(userID)).Err()
}

func encodeEntry(sub *models.BillingSubscription) ([]byte, error) {
	return json.Marshal(entry{Subscription: sub})
}

func decodeEntry(raw []byte) (*models.BillingSubscription, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cached subscription: %w", err)
	}
	return e.Subscription, nil
}
