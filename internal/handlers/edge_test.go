package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"oddsedge-gateway/internal/cache"
	"oddsedge-gateway/internal/coalesce"
	"oddsedge-gateway/internal/config"
	"oddsedge-gateway/internal/hotkeys"
	"oddsedge-gateway/internal/provider"
	"oddsedge-gateway/internal/scheduler"
)

type mockProvider struct {
	oddsCalls     atomic.Int32
	sportsCalls   atomic.Int32
	detailsCalls  atomic.Int32
	priorityCalls atomic.Int32

	oddsPayload    json.RawMessage
	oddsErr        error
	oddsDelay      time.Duration
	detailsPayload json.RawMessage
	sportsPayload  json.RawMessage

	lastPriority *provider.PriorityMarketRequest
}

func (m *mockProvider) GetAllSports(ctx context.Context) (json.RawMessage, error) {
	m.sportsCalls.Add(1)
	return m.sportsPayload, nil
}

func (m *mockProvider) GetMatchList(ctx context.Context, sportID string) (json.RawMessage, error) {
	return json.RawMessage(`[{"id":"m1"}]`), nil
}

func (m *mockProvider) GetMatchOdds(ctx context.Context, gameID, sportID string) (json.RawMessage, error) {
	m.oddsCalls.Add(1)
	if m.oddsDelay > 0 {
		time.Sleep(m.oddsDelay)
	}
	if m.oddsErr != nil {
		return nil, m.oddsErr
	}
	return m.oddsPayload, nil
}

func (m *mockProvider) GetMatchDetails(ctx context.Context, sportID, gameID string) (json.RawMessage, error) {
	m.detailsCalls.Add(1)
	return m.detailsPayload, nil
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
	return nil, nil
}
func (m *mockProvider) GetTopEvents(ctx context.Context) (json.RawMessage, error) {
	return nil, nil
}
func (m *mockProvider) GetBanners(ctx context.Context) (json.RawMessage, error) {
	return nil, nil
}

func (m *mockProvider) PostPriorityMarket(ctx context.Context, req *provider.PriorityMarketRequest) (json.RawMessage, error) {
	m.priorityCalls.Add(1)
	m.lastPriority = req
	return json.RawMessage(`{"accepted":true}`), nil
}

func newTestHandler(t *testing.T, mock *mockProvider) (*EdgeHandler, cache.Store, *hotkeys.Registry) {
	t.Helper()
	co := coalesce.New(nil)
	store := cache.NewMemoryStore(time.Minute, 2, co, nil)
	t.Cleanup(func() { store.Close() })
	hot := hotkeys.NewRegistry(store, hotkeys.DefaultPrefix, 30*time.Second, "4", nil)

	ttl := config.TierTTLs{
		Sports:    24 * time.Hour,
		MatchList: 2 * time.Minute,
		Odds:      2 * time.Second,
		OnDemand:  24 * time.Hour,
		Results:   time.Hour,
		Sidebar:   48 * time.Hour,
		TopEvents: 2 * time.Hour,
		Banners:   2 * time.Hour,
	}

	sched := scheduler.New(scheduler.Config{}, mock, store, co, hot, nil)
	return NewEdgeHandler(store, co, hot, mock, sched, ttl, "4"), store, hot
}

func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rr.Body.String())
	}
	return env
}

func TestGetOdds_ThunderingHerdCoalesces(t *testing.T) {
	mock := &mockProvider{
		oddsPayload: json.RawMessage(`{"odds":[1.5,2.5]}`),
		oddsDelay:   20 * time.Millisecond,
	}
	h, _, hot := newTestHandler(t, mock)

	const clients = 200
	var wg sync.WaitGroup
	start := make(chan struct{})
	bodies := make([]string, clients)
	codes := make([]int, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := httptest.NewRequest(http.MethodGet, "/api/odds/g1?sportId=4", nil)
			req = withURLParams(req, map[string]string{"gameId": "g1"})
			rr := httptest.NewRecorder()
			h.GetOdds(rr, req)
			bodies[i] = rr.Body.String()
			codes[i] = rr.Code
		}(i)
	}
	close(start)
	wg.Wait()

	if got := mock.oddsCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 upstream odds call, got %d", got)
	}
	for i := 0; i < clients; i++ {
		if codes[i] != http.StatusOK {
			t.Fatalf("client %d: status %d", i, codes[i])
		}
		if bodies[i] != bodies[0] {
			t.Fatalf("client %d received a different payload", i)
		}
	}

	records, err := hot.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 || records[0].GameID != "g1" {
		t.Fatalf("expected g1 marked hot, got %+v", records)
	}
}

func TestGetOdds_CacheHitMarksHot(t *testing.T) {
	mock := &mockProvider{oddsPayload: json.RawMessage(`{"odds":[]}`)}
	h, store, hot := newTestHandler(t, mock)
	ctx := context.Background()

	if err := store.Set(ctx, "odds:g2", []byte(`{"cached":true}`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/odds/g2", nil)
	req = withURLParams(req, map[string]string{"gameId": "g2"})
	rr := httptest.NewRecorder()
	h.GetOdds(rr, req)

	if mock.oddsCalls.Load() != 0 {
		t.Fatalf("cache hit must not call upstream")
	}
	env := decodeEnvelope(t, rr)
	if !env.Success || string(env.Data) != `{"cached":true}` {
		t.Fatalf("unexpected envelope %+v", env)
	}

	records, _ := hot.List(ctx)
	if len(records) != 1 || records[0].SportID != "4" {
		t.Fatalf("expected hot mark with default sport, got %+v", records)
	}
}

func TestGetOdds_MissingGameID(t *testing.T) {
	h, _, _ := newTestHandler(t, &mockProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/odds/", nil)
	req = withURLParams(req, map[string]string{})
	rr := httptest.NewRecorder()
	h.GetOdds(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Success {
		t.Fatalf("expected success=false")
	}
}

func TestGetSports_MissFetchesAndCaches(t *testing.T) {
	mock := &mockProvider{sportsPayload: json.RawMessage(`[{"sportId":4}]`)}
	h, store, _ := newTestHandler(t, mock)

	req := httptest.NewRequest(http.MethodGet, "/api/sports", nil)
	rr := httptest.NewRecorder()
	h.GetSports(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if v, ok, _ := store.Get(context.Background(), "sports"); !ok || string(v) != `[{"sportId":4}]` {
		t.Fatalf("expected payload cached, got ok=%v v=%q", ok, v)
	}

	// Second request is served from cache.
	rr = httptest.NewRecorder()
	h.GetSports(rr, httptest.NewRequest(http.MethodGet, "/api/sports", nil))
	if mock.sportsCalls.Load() != 1 {
		t.Fatalf("expected 1 upstream call across 2 requests, got %d", mock.sportsCalls.Load())
	}
}

func TestGetSports_EmptyUpstreamIsSuccessWithNullData(t *testing.T) {
	mock := &mockProvider{sportsPayload: nil}
	h, store, _ := newTestHandler(t, mock)

	req := httptest.NewRequest(http.MethodGet, "/api/sports", nil)
	rr := httptest.NewRecorder()
	h.GetSports(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on empty data, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if !env.Success || string(env.Data) != "null" {
		t.Fatalf("expected success with null data, got %+v", env)
	}
	if _, ok, _ := store.Get(context.Background(), "sports"); ok {
		t.Fatalf("empty payload must not be cached")
	}
}

func TestGetDetails_NotFound(t *testing.T) {
	mock := &mockProvider{detailsPayload: nil}
	h, _, _ := newTestHandler(t, mock)

	req := httptest.NewRequest(http.MethodGet, "/api/details/4/g1", nil)
	req = withURLParams(req, map[string]string{"sportId": "4", "gameId": "g1"})
	rr := httptest.NewRecorder()
	h.GetDetails(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetDetails_CachedOncePerID(t *testing.T) {
	mock := &mockProvider{detailsPayload: json.RawMessage(`{"venue":"lords"}`)}
	h, _, _ := newTestHandler(t, mock)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/details/4/g1", nil)
		req = withURLParams(req, map[string]string{"sportId": "4", "gameId": "g1"})
		rr := httptest.NewRecorder()
		h.GetDetails(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rr.Code)
		}
	}

	if got := mock.detailsCalls.Load(); got != 1 {
		t.Fatalf("expected 1 upstream details call across 3 requests, got %d", got)
	}
}

func TestPostPriorityMarket_PassThrough(t *testing.T) {
	mock := &mockProvider{}
	h, store, _ := newTestHandler(t, mock)

	body := `{"sportId":"4","id":"g1","marketName":"Match Winner","mname":"mw","gtype":"match"}`
	req := httptest.NewRequest(http.MethodPost, "/api/priority-market", bytes.NewReader([]byte(body)))
	rr := httptest.NewRecorder()
	h.PostPriorityMarket(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rr.Code, rr.Body.String())
	}
	if mock.priorityCalls.Load() != 1 {
		t.Fatalf("expected exactly 1 upstream POST, got %d", mock.priorityCalls.Load())
	}
	if mock.lastPriority.GameID != "g1" || mock.lastPriority.MarketName != "Match Winner" {
		t.Fatalf("payload not forwarded: %+v", mock.lastPriority)
	}

	// No cache involvement on the pass-through path.
	if ms, ok := store.(*cache.MemoryStore); ok && ms.Len() != 0 {
		t.Fatalf("pass-through must not touch the cache, %d keys written", ms.Len())
	}
}

func TestPostPriorityMarket_Validation(t *testing.T) {
	mock := &mockProvider{}
	h, _, _ := newTestHandler(t, mock)

	req := httptest.NewRequest(http.MethodPost, "/api/priority-market", bytes.NewReader([]byte(`{"sportId":"4"}`)))
	rr := httptest.NewRecorder()
	h.PostPriorityMarket(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if mock.priorityCalls.Load() != 0 {
		t.Fatalf("invalid request must not reach upstream")
	}
}

func TestGetStats_Shape(t *testing.T) {
	h, _, hot := newTestHandler(t, &mockProvider{})
	if err := hot.Mark(context.Background(), "g1", "4"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	h.GetStats(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var st struct {
		Started     bool     `json:"started"`
		HotKeys     []string `json:"hotKeys"`
		HotKeyCount int      `json:"hotKeyCount"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Started {
		t.Fatalf("scheduler was never started")
	}
	if st.HotKeyCount != 1 || len(st.HotKeys) != 1 {
		t.Fatalf("unexpected hot keys: %+v", st)
	}
}
