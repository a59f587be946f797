package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// bootstrap synchronously warms the small, slowly-changing datasets and
// runs a first match-list sweep per sport. Failures are logged, not
// fatal: a key left unwarmed is fetched by its route on the first request
// or by the next tier tick.
func (s *Scheduler) bootstrap(ctx context.Context) {
	start := time.Now()

	s.fetchAndStore(ctx, "sports", s.cfg.SportsTTL, s.provider.GetAllSports)
	s.fetchAndStore(ctx, "sidebar", s.cfg.SidebarTTL, s.provider.GetSidebarTree)
	s.fetchAndStore(ctx, "top-events", s.cfg.TopEventsTTL, s.provider.GetTopEvents)
	s.fetchAndStore(ctx, "banners", s.cfg.BannersTTL, s.provider.GetBanners)

	s.refreshMatchLists(ctx)

	s.logger.Info("bootstrap complete", zap.Duration("duration", time.Since(start)))
}

// refreshMatchLists sweeps the match list for every sport currently in
// the cached sports payload.
func (s *Scheduler) refreshMatchLists(ctx context.Context) {
	sportIDs := s.sportIDs(ctx)
	if len(sportIDs) == 0 {
		s.logger.Debug("no sports cached, match list sweep skipped")
		return
	}

	for _, sid := range sportIDs {
		sid := sid
		s.fetchAndStore(ctx, "matches:"+sid, s.cfg.MatchListTTL, func(ctx context.Context) (json.RawMessage, error) {
			return s.provider.GetMatchList(ctx, sid)
		})
	}
}

// fetchAndStore runs one slow-tier refresh: provider call under its own
// deadline, cache overwrite only when the payload is non-empty.
func (s *Scheduler) fetchAndStore(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) (json.RawMessage, error)) {
	payload, err := fn(ctx)
	if err != nil {
		s.logger.Warn("tier refresh failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}
	if payload == nil {
		// Empty response never overwrites a previous entry.
		s.logger.Debug("tier refresh returned no content", zap.String("key", key))
		return
	}

	if err := s.store.Set(ctx, key, payload, ttl); err != nil {
		s.logger.Warn("tier cache write failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("tier refreshed",
		zap.String("key", key),
		zap.Int("bytes", len(payload)),
		zap.Duration("ttl", ttl),
	)
}

// sportIDs extracts sport identifiers from the cached sports payload.
// The payload is opaque everywhere else, so the decode is deliberately
// tolerant: a JSON array of objects keyed by "sportId" or "id", with
// numbers and strings both accepted.
func (s *Scheduler) sportIDs(ctx context.Context) []string {
	payload, ok, err := s.store.Get(ctx, "sports")
	if err != nil || !ok {
		return nil
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		s.logger.Warn("sports payload not a list, cannot sweep match lists", zap.Error(err))
		return nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		raw, ok := item["sportId"]
		if !ok {
			raw, ok = item["id"]
		}
		if !ok {
			continue
		}
		if id := decodeID(raw); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func decodeID(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}
