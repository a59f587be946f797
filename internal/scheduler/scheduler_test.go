package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"oddsedge-gateway/internal/cache"
	"oddsedge-gateway/internal/coalesce"
	"oddsedge-gateway/internal/hotkeys"
	"oddsedge-gateway/internal/provider"
)

type mockProvider struct {
	mu             sync.Mutex
	oddsCalls      atomic.Int32
	matchListCalls []string
	oddsErr        error
	matchListErr   error
	oddsDelay      time.Duration
	sportsPayload  json.RawMessage
}

func (m *mockProvider) GetAllSports(ctx context.Context) (json.RawMessage, error) {
	if m.sportsPayload == nil {
		return json.RawMessage(`[{"sportId":4},{"sportId":"2"}]`), nil
	}
	return m.sportsPayload, nil
}

func (m *mockProvider) GetMatchList(ctx context.Context, sportID string) (json.RawMessage, error) {
	m.mu.Lock()
	m.matchListCalls = append(m.matchListCalls, sportID)
	m.mu.Unlock()
	if m.matchListErr != nil {
		return nil, m.matchListErr
	}
	return json.RawMessage(`[{"id":"m1"}]`), nil
}

func (m *mockProvider) GetMatchOdds(ctx context.Context, gameID, sportID string) (json.RawMessage, error) {
	m.oddsCalls.Add(1)
	if m.oddsDelay > 0 {
		select {
		case <-time.After(m.oddsDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.oddsErr != nil {
		return nil, m.oddsErr
	}
	return json.RawMessage(`{"game":"` + gameID + `"}`), nil
}

func (m *mockProvider) GetMatchDetails(ctx context.Context, sportID, gameID string) (json.RawMessage, error) {
	return nil, nil
}
func (m *mockProvider) GetLiveTvScore(ctx context.Context, gameID, sportID string) (json.RawMessage, error) {
	return nil, nil
}
func (m *mockProvider) GetVirtualTv(ctx context.Context, gameID string) (json.RawMessage, error) {
	return nil, nil
}
func (m *mockProvider) GetResults(ctx context.Context, sportID, gameID string) (json.RawMessage, error) {
	return nil, nil
}
func (m *mockProvider) GetSidebarTree(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"tree":[]}`), nil
}
func (m *mockProvider) GetTopEvents(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[{"event":1}]`), nil
}
func (m *mockProvider) GetBanners(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[{"banner":1}]`), nil
}
func (m *mockProvider) PostPriorityMarket(ctx context.Context, req *provider.PriorityMarketRequest) (json.RawMessage, error) {
	return nil, nil
}

func (m *mockProvider) matchLists() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.matchListCalls))
	copy(out, m.matchListCalls)
	return out
}

func newTestScheduler(t *testing.T, mock *mockProvider, cfg Config) (*Scheduler, cache.Store, *hotkeys.Registry) {
	t.Helper()
	co := coalesce.New(nil)
	store := cache.NewMemoryStore(10*time.Millisecond, 2, co, nil)
	t.Cleanup(func() { store.Close() })
	hot := hotkeys.NewRegistry(store, hotkeys.DefaultPrefix, time.Minute, "4", nil)
	s := New(cfg, mock, store, co, hot, nil)
	t.Cleanup(s.Stop)
	return s, store, hot
}

func slowTierConfig() Config {
	// Slow tiers parked out of the way; tests drive the odds tier only.
	return Config{
		OddsInterval:      20 * time.Millisecond,
		MatchListInterval: time.Hour,
		TopEventsInterval: time.Hour,
		BannersInterval:   time.Hour,
		SidebarInterval:   time.Hour,
		StopGrace:         200 * time.Millisecond,
		MaxConcurrency:    5,
	}
}

func TestScheduler_BootstrapWarmsSlowTiers(t *testing.T) {
	mock := &mockProvider{}
	s, store, _ := newTestScheduler(t, mock, slowTierConfig())
	ctx := context.Background()

	s.Start(ctx)

	for _, key := range []string{"sports", "sidebar", "top-events", "banners", "matches:4", "matches:2"} {
		if _, ok, _ := store.Get(ctx, key); !ok {
			t.Fatalf("bootstrap did not warm %q", key)
		}
	}

	sweep := mock.matchLists()
	if len(sweep) != 2 {
		t.Fatalf("expected a match list sweep per sport, got %v", sweep)
	}
}

func TestScheduler_BootstrapFailureIsNotFatal(t *testing.T) {
	mock := &mockProvider{matchListErr: errors.New("upstream down")}
	s, store, _ := newTestScheduler(t, mock, slowTierConfig())
	ctx := context.Background()

	s.Start(ctx)

	// Sports still cached; match lists absent but nothing exploded.
	if _, ok, _ := store.Get(ctx, "sports"); !ok {
		t.Fatalf("sports should be cached despite match list failures")
	}
	if _, ok, _ := store.Get(ctx, "matches:4"); ok {
		t.Fatalf("failed sweep must not write the cache")
	}
}

func TestScheduler_EmptyHotSetIsNoOp(t *testing.T) {
	mock := &mockProvider{}
	s, _, _ := newTestScheduler(t, mock, slowTierConfig())

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	if got := mock.oddsCalls.Load(); got != 0 {
		t.Fatalf("empty hot set must emit no odds calls, got %d", got)
	}
}

func TestScheduler_HotKeysArePolled(t *testing.T) {
	mock := &mockProvider{}
	s, store, hot := newTestScheduler(t, mock, slowTierConfig())
	ctx := context.Background()

	if err := hot.Mark(ctx, "g1", "4"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for mock.oddsCalls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("hot key was never polled, calls=%d", mock.oddsCalls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if v, ok, _ := store.Get(ctx, "odds:g1"); !ok || string(v) != `{"game":"g1"}` {
		t.Fatalf("odds tick did not write the cache, got ok=%v v=%q", ok, v)
	}
}

func TestScheduler_BusyTickIsSkipped(t *testing.T) {
	// Each odds fetch takes several intervals, so ticks must be dropped
	// while the first one drains.
	mock := &mockProvider{oddsDelay: 150 * time.Millisecond}
	s, _, hot := newTestScheduler(t, mock, slowTierConfig())
	ctx := context.Background()

	if err := hot.Mark(ctx, "g1", "4"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	s.Start(ctx)
	time.Sleep(300 * time.Millisecond)
	s.Stop()

	st := s.Stats(ctx)
	if st.TicksSkipped == 0 {
		t.Fatalf("expected skipped ticks while the previous tick drained")
	}
	// With a 150ms fetch and a 20ms tick, only a couple of fetches fit.
	if got := mock.oddsCalls.Load(); got > 3 {
		t.Fatalf("overlapping ticks: %d odds calls in 300ms", got)
	}
}

func TestScheduler_OddsFailureToleratedAndCacheUntouched(t *testing.T) {
	mock := &mockProvider{oddsErr: errors.New("timeout")}
	s, store, hot := newTestScheduler(t, mock, slowTierConfig())
	ctx := context.Background()

	if err := store.Set(ctx, "odds:g1", []byte("previous"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := hot.Mark(ctx, "g1", "4"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for mock.oddsCalls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("odds never fetched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if v, ok, _ := store.Get(ctx, "odds:g1"); !ok || string(v) != "previous" {
		t.Fatalf("failed fetch must not overwrite the cache, got ok=%v v=%q", ok, v)
	}
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	mock := &mockProvider{}
	s, _, _ := newTestScheduler(t, mock, slowTierConfig())
	ctx := context.Background()

	s.Start(ctx)
	s.Start(ctx) // second start is a no-op

	st := s.Stats(ctx)
	if !st.Started {
		t.Fatalf("expected started=true")
	}

	s.Stop()
	s.Stop() // second stop is a no-op

	st = s.Stats(ctx)
	if st.Started {
		t.Fatalf("expected started=false after stop")
	}
}

func TestScheduler_StatsShape(t *testing.T) {
	mock := &mockProvider{}
	s, _, hot := newTestScheduler(t, mock, slowTierConfig())
	ctx := context.Background()

	if err := hot.Mark(ctx, "g7", "4"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	s.Start(ctx)

	st := s.Stats(ctx)
	if st.HotKeyCount != 1 || len(st.HotKeys) != 1 || st.HotKeys[0] != "g7" {
		t.Fatalf("unexpected hot keys in stats: %+v", st)
	}
}
