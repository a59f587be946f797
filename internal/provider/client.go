package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"oddsedge-gateway/internal/metrics"
)

func (c *client) GetAllSports(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "sports", "/api/v1/sports")
}

func (c *client) GetMatchList(ctx context.Context, sportID string) (json.RawMessage, error) {
	return c.get(ctx, "matchList", "/api/v1/matches/"+url.PathEscape(sportID))
}

func (c *client) GetMatchOdds(ctx context.Context, gameID, sportID string) (json.RawMessage, error) {
	return c.get(ctx, "odds",
		"/api/v1/odds/"+url.PathEscape(gameID)+"?sportId="+url.QueryEscape(sportID))
}

func (c *client) GetMatchDetails(ctx context.Context, sportID, gameID string) (json.RawMessage, error) {
	return c.get(ctx, "details",
		"/api/v1/details/"+url.PathEscape(sportID)+"/"+url.PathEscape(gameID))
}

func (c *client) GetLiveTvScore(ctx context.Context, gameID, sportID string) (json.RawMessage, error) {
	return c.get(ctx, "liveTv",
		"/api/v1/livetv/"+url.PathEscape(gameID)+"?sportId="+url.QueryEscape(sportID))
}

func (c *client) GetVirtualTv(ctx context.Context, gameID string) (json.RawMessage, error) {
	return c.get(ctx, "virtualTv", "/api/v1/virtualtv/"+url.PathEscape(gameID))
}

func (c *client) GetResults(ctx context.Context, sportID, gameID string) (json.RawMessage, error) {
	return c.get(ctx, "results",
		"/api/v1/results/"+url.PathEscape(sportID)+"/"+url.PathEscape(gameID))
}

func (c *client) GetSidebarTree(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "sidebar", "/api/v1/sidebar")
}

func (c *client) GetTopEvents(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "topEvents", "/api/v1/top-events")
}

func (c *client) GetBanners(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "banners", "/api/v1/banners")
}

func (c *client) PostPriorityMarket(ctx context.Context, req *PriorityMarketRequest) (json.RawMessage, error) {
	if req == nil {
		return nil, fmt.Errorf("provider: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("provider: invalid request: %w", err)
	}
	return c.post(ctx, "priorityMarket", "/api/v1/priority-market", req)
}

// get performs a GET under the per-call deadline and decodes the
// provider envelope.
func (c *client) get(parentCtx context.Context, endpoint, path string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.RequestTimeout)
	defer cancel()

	do := func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("provider: build HTTP request: %w", err)
		}
		c.setHeaders(httpReq)
		return c.httpClient.Do(httpReq)
	}

	return c.roundTrip(ctx, endpoint, do)
}

// post performs a POST under the (longer) POST deadline.
func (c *client) post(parentCtx context.Context, endpoint, path string, body any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.PostTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal request: %w", err)
	}

	do := func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("provider: build HTTP request: %w", err)
		}
		c.setHeaders(httpReq)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	return c.roundTrip(ctx, endpoint, do)
}

func (c *client) setHeaders(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")
}

// roundTrip runs the retrying HTTP call and maps the response to the
// (payload, error) contract: nil payload + nil error when the provider
// responded with no content.
func (c *client) roundTrip(ctx context.Context, endpoint string, do func(ctx context.Context) (*http.Response, error)) (json.RawMessage, error) {
	start := time.Now()

	resp, err := c.doWithRetry(ctx, endpoint, do)
	if err != nil {
		metrics.UpstreamLatencySeconds.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		c.logger.Warn("upstream request failed",
			zap.String("endpoint", endpoint),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.UpstreamLatencySeconds.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		c.logger.Warn("upstream error status",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 200)),
		)
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, truncate(string(body), 200))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		metrics.UpstreamLatencySeconds.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	if !env.Success {
		metrics.UpstreamLatencySeconds.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		c.logger.Warn("upstream semantic failure",
			zap.String("endpoint", endpoint),
			zap.String("message", env.Message),
		)
		return nil, fmt.Errorf("%w: %s", ErrUpstream, truncate(env.Message, 200))
	}

	if emptyPayload(env.Data) {
		metrics.UpstreamLatencySeconds.WithLabelValues(endpoint, "empty").Observe(time.Since(start).Seconds())
		c.logger.Debug("upstream returned no content",
			zap.String("endpoint", endpoint),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, nil
	}

	metrics.UpstreamLatencySeconds.WithLabelValues(endpoint, "ok").Observe(time.Since(start).Seconds())
	c.logger.Debug("upstream request completed",
		zap.String("endpoint", endpoint),
		zap.Int("bytes", len(env.Data)),
		zap.Duration("duration", time.Since(start)),
	)

	return env.Data, nil
}

// truncate limits string length for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
