package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"oddsedge-gateway/internal/coalesce"
)

type Config struct {
	Backend         string // "memory" or "redis"
	Prefix          string
	StaleMultiplier int
	CleanupInterval time.Duration
}

// NewStore selects the cache backend. The Redis backend cannot serve
// stale entries while revalidating; the degradation is logged once here
// so it is visible at boot rather than silent.
func NewStore(cfg Config, redisClient *redis.Client, co *coalesce.Coalescer, logger *zap.Logger) Store {
	switch cfg.Backend {
	case "redis":
		logger.Info("redis cache backend selected, stale-while-revalidate disabled",
			zap.String("prefix", cfg.Prefix),
			zap.Int("stale_multiplier", cfg.StaleMultiplier),
		)
		return NewRedisStore(redisClient, RedisConfig{
			Prefix:          cfg.Prefix,
			StaleMultiplier: cfg.StaleMultiplier,
		}, co)
	default:
		return NewMemoryStore(cfg.CleanupInterval, cfg.StaleMultiplier, co, logger)
	}
}
