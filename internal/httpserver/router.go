package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"oddsedge-gateway/internal/handlers"
	"oddsedge-gateway/internal/metrics"
	"oddsedge-gateway/internal/middleware"
)

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, edge *handlers.EdgeHandler) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())               // panic recovery
	r.Use(middleware.Timeout(15 * time.Second)) // request timeout
	r.Use(middleware.MaxBodySize(512 * 1024))   // 512 KB max body

	// routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/sports", edge.GetSports)
		r.Get("/matches/{sportId}", edge.GetMatchList)
		r.Get("/odds/{gameId}", edge.GetOdds)
		r.Get("/details/{sportId}/{gameId}", edge.GetDetails)
		r.Get("/tv/{gameId}", edge.GetLiveTv)
		r.Get("/vtv/{gameId}", edge.GetVirtualTv)
		r.Get("/results/{sportId}/{gameId}", edge.GetResults)
		r.Get("/sidebar", edge.GetSidebar)
		r.Get("/top-events", edge.GetTopEvents)
		r.Get("/banners", edge.GetBanners)
		r.Post("/priority-market", edge.PostPriorityMarket)
	})

	// scheduler health
	r.Get("/stats", edge.GetStats)

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
