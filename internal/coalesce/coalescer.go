package coalesce

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"oddsedge-gateway/internal/metrics"
)

// Fetch produces the payload for a key. It runs at most once per key at
// any instant, no matter how many callers coalesce on it.
type Fetch func() ([]byte, error)

// Coalescer collapses concurrent fetches for the same key into a single
// in-flight operation. All callers that join while the operation is in
// flight receive the same payload or the same error. The in-flight slot
// is released on settlement, so a later call starts a fresh fetch.
type Coalescer struct {
	group  singleflight.Group
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

func New(logger *zap.Logger) *Coalescer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coalescer{
		logger: logger.Named("coalescer"),
		active: make(map[string]struct{}),
	}
}

// Do executes fn under the single-flight slot for key, or joins the
// in-flight execution if one exists.
func (c *Coalescer) Do(key string, fn Fetch) ([]byte, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.enter(key)
		defer c.exit(key)
		return fn()
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

// Background runs a coalesced fetch without a waiting caller. Failures
// are logged at warn and otherwise dropped; the next demand or tier tick
// retries.
func (c *Coalescer) Background(key string, fn Fetch) {
	go func() {
		if _, err := c.Do(key, fn); err != nil {
			c.logger.Warn("background fetch failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()
}

// ActiveCount returns the number of keys with a fetch currently in flight.
func (c *Coalescer) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Coalescer) enter(key string) {
	c.mu.Lock()
	c.active[key] = struct{}{}
	c.mu.Unlock()
	metrics.CoalescerActive.Inc()
}

func (c *Coalescer) exit(key string) {
	c.mu.Lock()
	delete(c.active, key)
	c.mu.Unlock()
	metrics.CoalescerActive.Dec()
}
