package ratelimit

import (
	"time"

	"github.com/ManuelReschke/subsync/internal/pkg/cache"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
)

// storageDatabase keeps limiter counters apart from the snapshot cache (DB 0).
const storageDatabase = 2

// NewRedisStorage creates the limiter storage on the cache server.
func NewRedisStorage(cfg cache.Config) fiber.Storage {
	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: storageDatabase,
		Reset:    false,
	})
}

// Config controls a rate limited route group.
type Config struct {
	Max          int
	Expiration   time.Duration
	Storage      fiber.Storage
	KeyGenerator func(*fiber.Ctx) string
}

// New returns a limiter answering 429 with a JSON error. A nil Storage keeps
// counters in process memory.
func New(cfg Config) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 10
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = time.Minute
	}
	lc := limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Expiration,
		Storage:    cfg.Storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many requests"})
		},
	}
	if cfg.KeyGenerator != nil {
		lc.KeyGenerator = cfg.KeyGenerator
	}
	return limiter.New(lc)
}
