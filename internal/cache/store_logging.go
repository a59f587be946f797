package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"oddsedge-gateway/internal/metrics"
	"oddsedge-gateway/pkg/logging/logging"
)

// LoggingStore wraps a Store with logging + metrics on the read/write
// paths. Scan and coalesced operations pass through untouched; their
// observability lives in the coalescer and the scheduler.
type LoggingStore struct {
	Store
}

// NewLoggingStore returns a store that logs and records metrics.
func NewLoggingStore(inner Store) Store {
	return &LoggingStore{Store: inner}
}

func (s *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := s.Store.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)
	tier := tierOfKey(key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}

	fields := []zap.Field{
		zap.String("key", key),
		zap.String("tier", tier),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Error("cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_get", fields...)
	}

	return value, ok, err
}

func (s *LoggingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.Store.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	fields := []zap.Field{
		zap.String("key", key),
		zap.String("tier", tierOfKey(key)),
		zap.Duration("ttl", ttl),
		zap.Int("bytes", len(value)),
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Error("cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_set", fields...)
	}

	return err
}

// tierOfKey maps a cache key to its dataset tier for metric labels.
// Keys follow the fixed scheme odds:<id>, matches:<sid>, hot:odds:<id>,
// sports, sidebar, top-events, banners, ...
func tierOfKey(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		if strings.HasPrefix(key, "hot:") {
			return "hot"
		}
		return key[:i]
	}
	return key
}
