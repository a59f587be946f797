package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"oddsedge-gateway/internal/cache"
	"oddsedge-gateway/internal/coalesce"
	"oddsedge-gateway/internal/config"
	"oddsedge-gateway/internal/hotkeys"
	"oddsedge-gateway/internal/provider"
	"oddsedge-gateway/internal/scheduler"
	"oddsedge-gateway/pkg/logging/logging"
)

// EdgeHandler is the thin per-request logic in front of the cache and
// the provider. Each endpoint follows one of four templates:
//
//	T1  pure read-through     (sports, match lists, sidebar, top events, banners, results)
//	T2  cache-then-hot        (odds by game id)
//	T3  on-demand cached once (details, live TV, virtual TV)
//	T4  pass-through          (priority market POST)
type EdgeHandler struct {
	Store          cache.Store
	Co             *coalesce.Coalescer
	Hot            *hotkeys.Registry
	Provider       provider.Client
	Sched          *scheduler.Scheduler
	TTL            config.TierTTLs
	DefaultSportID string
}

func NewEdgeHandler(
	store cache.Store,
	co *coalesce.Coalescer,
	hot *hotkeys.Registry,
	pc provider.Client,
	sched *scheduler.Scheduler,
	ttl config.TierTTLs,
	defaultSportID string,
) *EdgeHandler {
	return &EdgeHandler{
		Store:          store,
		Co:             co,
		Hot:            hot,
		Provider:       pc,
		Sched:          sched,
		TTL:            ttl,
		DefaultSportID: defaultSportID,
	}
}

// ---- T1: pure read-through ----

func (h *EdgeHandler) GetSports(w http.ResponseWriter, r *http.Request) {
	h.serveTier(w, r, "sports", h.TTL.Sports, h.Provider.GetAllSports)
}

func (h *EdgeHandler) GetMatchList(w http.ResponseWriter, r *http.Request) {
	sportID := chi.URLParam(r, "sportId")
	if sportID == "" {
		writeError(w, http.StatusBadRequest, "missing sportId")
		return
	}
	h.serveTier(w, r, "matches:"+sportID, h.TTL.MatchList, func(ctx context.Context) (json.RawMessage, error) {
		return h.Provider.GetMatchList(ctx, sportID)
	})
}

func (h *EdgeHandler) GetSidebar(w http.ResponseWriter, r *http.Request) {
	h.serveTier(w, r, "sidebar", h.TTL.Sidebar, h.Provider.GetSidebarTree)
}

func (h *EdgeHandler) GetTopEvents(w http.ResponseWriter, r *http.Request) {
	h.serveTier(w, r, "top-events", h.TTL.TopEvents, h.Provider.GetTopEvents)
}

func (h *EdgeHandler) GetBanners(w http.ResponseWriter, r *http.Request) {
	h.serveTier(w, r, "banners", h.TTL.Banners, h.Provider.GetBanners)
}

func (h *EdgeHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	sportID := chi.URLParam(r, "sportId")
	gameID := chi.URLParam(r, "gameId")
	if sportID == "" || gameID == "" {
		writeError(w, http.StatusBadRequest, "missing sportId or gameId")
		return
	}
	h.serveTier(w, r, "results:"+sportID+":"+gameID, h.TTL.Results, func(ctx context.Context) (json.RawMessage, error) {
		return h.Provider.GetResults(ctx, sportID, gameID)
	})
}

// serveTier rides the store's GetOrSet: fresh entries answer directly,
// stale ones answer while a coalesced refresh runs behind them, and a
// cold miss blocks on one shared provider call. An empty upstream
// result is still a 200 with null data, and is never cached.
func (h *EdgeHandler) serveTier(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, fetch func(ctx context.Context) (json.RawMessage, error)) {
	ctx := r.Context()

	payload, err := h.Store.GetOrSet(ctx, key, func(ctx context.Context) ([]byte, error) {
		return fetch(ctx)
	}, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upstream unavailable")
		return
	}

	writeData(w, payload)
}

// ---- T2: cache-then-hot ----

// GetOdds serves odds for one game, marking the game hot in either
// branch so the 1-second tier keeps it refreshed while clients keep
// asking. A cold miss fetches through the coalescer shared with the
// worker pool, so a request burst and a concurrent tick collapse into a
// single upstream call.
func (h *EdgeHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	gameID := chi.URLParam(r, "gameId")
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "missing gameId")
		return
	}
	sportID := r.URL.Query().Get("sportId")
	if sportID == "" {
		sportID = h.DefaultSportID
	}

	key := "odds:" + gameID

	value, ok, err := h.Store.Get(ctx, key)
	if err != nil {
		logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		h.markHot(ctx, gameID, sportID)
		writeData(w, value)
		return
	}

	payload, err := h.Co.Do(key, func() ([]byte, error) {
		p, err := h.Provider.GetMatchOdds(ctx, gameID, sportID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			if err := h.Store.Set(ctx, key, p, h.TTL.Odds); err != nil {
				logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return p, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upstream unavailable")
		return
	}

	h.markHot(ctx, gameID, sportID)
	writeData(w, payload)
}

func (h *EdgeHandler) markHot(ctx context.Context, gameID, sportID string) {
	if err := h.Hot.Mark(ctx, gameID, sportID); err != nil {
		logging.L(ctx).Warn("hot mark failed", zap.String("game_id", gameID), zap.Error(err))
	}
}

// ---- T3: on-demand, cached once per id ----

func (h *EdgeHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	sportID := chi.URLParam(r, "sportId")
	gameID := chi.URLParam(r, "gameId")
	if sportID == "" || gameID == "" {
		writeError(w, http.StatusBadRequest, "missing sportId or gameId")
		return
	}
	h.serveOnDemand(w, r, "details:"+gameID, func(ctx context.Context) (json.RawMessage, error) {
		return h.Provider.GetMatchDetails(ctx, sportID, gameID)
	})
}

func (h *EdgeHandler) GetLiveTv(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameId")
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "missing gameId")
		return
	}
	sportID := r.URL.Query().Get("sportId")
	if sportID == "" {
		sportID = h.DefaultSportID
	}
	h.serveOnDemand(w, r, "tv:"+gameID, func(ctx context.Context) (json.RawMessage, error) {
		return h.Provider.GetLiveTvScore(ctx, gameID, sportID)
	})
}

func (h *EdgeHandler) GetVirtualTv(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameId")
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "missing gameId")
		return
	}
	h.serveOnDemand(w, r, "vtv:"+gameID, func(ctx context.Context) (json.RawMessage, error) {
		return h.Provider.GetVirtualTv(ctx, gameID)
	})
}

// serveOnDemand: fetch on a miss and cache for the on-demand TTL.
// Concurrent misses for the same id are not coalesced; each one calls
// the provider. A provider no-content answer is a 404 here — these are
// entity-shaped endpoints, not lists.
func (h *EdgeHandler) serveOnDemand(w http.ResponseWriter, r *http.Request, key string, fetch func(ctx context.Context) (json.RawMessage, error)) {
	ctx := r.Context()
	logger := logging.L(ctx)

	value, ok, err := h.Store.Get(ctx, key)
	if err != nil {
		logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		writeData(w, value)
		return
	}

	payload, err := fetch(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upstream unavailable")
		return
	}
	if payload == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := h.Store.Set(ctx, key, payload, h.TTL.OnDemand); err != nil {
		logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}

	writeData(w, payload)
}

// ---- T4: pass-through ----

// PostPriorityMarket forwards the one write operation to the provider.
// No cache read or write on this path.
func (h *EdgeHandler) PostPriorityMarket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req provider.PriorityMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := h.Provider.PostPriorityMarket(ctx, &req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upstream unavailable")
		return
	}

	writeData(w, payload)
}

// ---- scheduler health ----

func (h *EdgeHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Sched.Stats(r.Context()))
}
