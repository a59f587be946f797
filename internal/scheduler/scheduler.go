package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"oddsedge-gateway/internal/cache"
	"oddsedge-gateway/internal/coalesce"
	"oddsedge-gateway/internal/hotkeys"
	"oddsedge-gateway/internal/metrics"
	"oddsedge-gateway/internal/provider"
	"oddsedge-gateway/internal/worker"
)

// Config fixes the tier cadences and cache TTLs. Immutable after New;
// changing a value means Stop + New + Start.
type Config struct {
	OddsInterval      time.Duration
	MatchListInterval time.Duration
	TopEventsInterval time.Duration
	BannersInterval   time.Duration
	SidebarInterval   time.Duration

	SportsTTL    time.Duration
	MatchListTTL time.Duration
	OddsTTL      time.Duration
	SidebarTTL   time.Duration
	TopEventsTTL time.Duration
	BannersTTL   time.Duration

	MaxConcurrency int
	// StopGrace bounds how long Stop waits for in-flight odds fetches.
	StopGrace time.Duration
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.OddsInterval, time.Second)
	def(&c.MatchListInterval, time.Minute)
	def(&c.TopEventsInterval, time.Hour)
	def(&c.BannersInterval, time.Hour)
	def(&c.SidebarInterval, 24*time.Hour)
	def(&c.SportsTTL, 24*time.Hour)
	def(&c.MatchListTTL, 2*time.Minute)
	def(&c.OddsTTL, 2*time.Second)
	def(&c.SidebarTTL, 48*time.Hour)
	def(&c.TopEventsTTL, 2*time.Hour)
	def(&c.BannersTTL, 2*time.Hour)
	def(&c.StopGrace, 3*time.Second)
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 5
	}
	return c
}

// Scheduler owns the per-tier refresh timers and the odds worker pool.
// Slow tiers call the provider directly and overwrite their canonical
// cache keys; the 1-second odds tier enumerates the hot set and fans it
// out through the pool, skipping a tick entirely while the previous one
// is still draining.
type Scheduler struct {
	cfg      Config
	provider provider.Client
	store    cache.Store
	co       *coalesce.Coalescer
	hot      *hotkeys.Registry
	logger   *zap.Logger

	started        atomic.Bool
	tickInProgress atomic.Bool
	ticksSkipped   atomic.Uint64

	mu     sync.Mutex
	pool   *worker.Pool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, pc provider.Client, store cache.Store, co *coalesce.Coalescer, hot *hotkeys.Registry, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		provider: pc,
		store:    store,
		co:       co,
		hot:      hot,
		logger:   logger.Named("scheduler"),
	}
}

// Start performs the one-shot bootstrap, then installs one recurring
// timer per tier. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.pool = worker.NewPool(s.cfg.MaxConcurrency, s.fetchOdds, s.logger)
	s.pool.OnDrain(s.onTickComplete)
	s.mu.Unlock()
	s.tickInProgress.Store(false)

	s.bootstrap(ctx)

	s.runTier("matchList", s.cfg.MatchListInterval, s.refreshMatchLists)
	s.runTier("topEvents", s.cfg.TopEventsInterval, func(ctx context.Context) {
		s.fetchAndStore(ctx, "top-events", s.cfg.TopEventsTTL, s.provider.GetTopEvents)
	})
	s.runTier("banners", s.cfg.BannersInterval, func(ctx context.Context) {
		s.fetchAndStore(ctx, "banners", s.cfg.BannersTTL, s.provider.GetBanners)
	})
	s.runTier("sidebar", s.cfg.SidebarInterval, func(ctx context.Context) {
		s.fetchAndStore(ctx, "sidebar", s.cfg.SidebarTTL, s.provider.GetSidebarTree)
	})
	s.runOddsTier()

	s.logger.Info("scheduler started",
		zap.Duration("odds_interval", s.cfg.OddsInterval),
		zap.Int("max_concurrency", s.cfg.MaxConcurrency),
	)
}

// Stop cancels the timers, detaches the drain listener and gives
// in-flight fetches a bounded grace. Calling Stop on a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	close(s.stopCh)
	pool := s.pool
	s.mu.Unlock()

	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopGrace)
	defer cancel()
	pool.Stop(ctx)
	pool.OnDrain(nil)
	s.tickInProgress.Store(false)

	s.logger.Info("scheduler stopped")
}

// runTier spawns the recurring timer loop for one slow tier. Handler
// panics are recovered so a bad tick never kills the timer.
func (s *Scheduler) runTier(name string, interval time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.safeTick(name, fn)
			case <-stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) safeTick(name string, fn func(ctx context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("tier tick panic recovered",
				zap.String("tier", name),
				zap.Any("error", rec),
			)
		}
	}()
	fn(context.Background())
}

// runOddsTier is the hot path: every tick, enumerate the hot set and
// hand it to the pool — unless the previous tick is still draining, in
// which case the whole tick is dropped. The hot set persists, so the
// next tick re-enqueues the same ids.
func (s *Scheduler) runOddsTier() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.OddsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.oddsTick(context.Background())
			case <-stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) oddsTick(ctx context.Context) {
	metrics.OddsTicksTotal.Inc()

	if !s.tickInProgress.CompareAndSwap(false, true) {
		s.ticksSkipped.Add(1)
		metrics.OddsTicksSkippedTotal.Inc()
		s.logger.Debug("odds tick skipped, previous tick still draining",
			zap.Uint64("skipped_total", s.ticksSkipped.Load()),
		)
		return
	}

	hotList, err := s.hot.List(ctx)
	if err != nil {
		s.logger.Warn("hot set enumeration failed", zap.Error(err))
		s.tickInProgress.Store(false)
		return
	}
	if len(hotList) == 0 {
		s.tickInProgress.Store(false)
		return
	}

	entries := make([]worker.Entry, 0, len(hotList))
	for _, rec := range hotList {
		entries = append(entries, worker.Entry{GameID: rec.GameID, SportID: rec.SportID})
	}

	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	pool.Enqueue(entries)
}

// onTickComplete is the pool's drain listener.
func (s *Scheduler) onTickComplete() {
	s.tickInProgress.Store(false)
}

// fetchOdds processes one hot entry: a coalesced provider fetch and a
// cache write with the odds TTL. Shares the odds:<id> coalescer keyspace
// with the GetOdds handler path, so a tick and a client miss for the
// same game collapse into one upstream call.
func (s *Scheduler) fetchOdds(ctx context.Context, e worker.Entry) {
	key := "odds:" + e.GameID

	payload, err := s.co.Do(key, func() ([]byte, error) {
		return s.provider.GetMatchOdds(ctx, e.GameID, e.SportID)
	})
	if err != nil {
		s.logger.Warn("odds fetch failed",
			zap.String("game_id", e.GameID),
			zap.String("sport_id", e.SportID),
			zap.Error(err),
		)
		return
	}
	if payload == nil {
		// No content: the previous entry keeps aging.
		return
	}

	if err := s.store.Set(ctx, key, payload, s.cfg.OddsTTL); err != nil {
		s.logger.Warn("odds cache write failed",
			zap.String("game_id", e.GameID),
			zap.Error(err),
		)
	}
}

// Stats is the scheduler health snapshot served by /stats.
type Stats struct {
	Started           bool         `json:"started"`
	OddsPollingActive bool         `json:"oddsPollingActive"`
	CoalescerActive   int          `json:"coalescerActive"`
	Worker            worker.Stats `json:"worker"`
	HotKeys           []string     `json:"hotKeys"`
	HotKeyCount       int          `json:"hotKeyCount"`
	TicksSkipped      uint64       `json:"ticksSkipped"`
}

func (s *Scheduler) Stats(ctx context.Context) Stats {
	st := Stats{
		Started:           s.started.Load(),
		OddsPollingActive: s.tickInProgress.Load(),
		CoalescerActive:   s.co.ActiveCount(),
		TicksSkipped:      s.ticksSkipped.Load(),
		HotKeys:           []string{},
	}

	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool != nil {
		st.Worker = pool.Stats()
	}

	if hotList, err := s.hot.List(ctx); err == nil {
		for _, rec := range hotList {
			st.HotKeys = append(st.HotKeys, rec.GameID)
		}
		st.HotKeyCount = len(hotList)
	}

	return st
}
