package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

// Client is the typed surface of the upstream diamond-proxy gateway.
// Every call returns (payload, error); a nil payload with a nil error
// means the provider responded but had no content, which is distinct
// from a transport error.
type Client interface {
	GetAllSports(ctx context.Context) (json.RawMessage, error)
	GetMatchList(ctx context.Context, sportID string) (json.RawMessage, error)
	GetMatchOdds(ctx context.Context, gameID, sportID string) (json.RawMessage, error)
	GetMatchDetails(ctx context.Context, sportID, gameID string) (json.RawMessage, error)
	GetLiveTvScore(ctx context.Context, gameID, sportID string) (json.RawMessage, error)
	GetVirtualTv(ctx context.Context, gameID string) (json.RawMessage, error)
	GetResults(ctx context.Context, sportID, gameID string) (json.RawMessage, error)
	GetSidebarTree(ctx context.Context) (json.RawMessage, error)
	GetTopEvents(ctx context.Context) (json.RawMessage, error)
	GetBanners(ctx context.Context) (json.RawMessage, error)
	PostPriorityMarket(ctx context.Context, req *PriorityMarketRequest) (json.RawMessage, error)
}

// PriorityMarketRequest is the one write operation the gateway passes
// through to the provider.
type PriorityMarketRequest struct {
	SportID    string `json:"sportId"`
	GameID     string `json:"id"`
	MarketName string `json:"marketName"`
	MName      string `json:"mname"`
	GType      string `json:"gtype"`
}

func (r *PriorityMarketRequest) Validate() error {
	if r.SportID == "" {
		return errors.New("sportId is required")
	}
	if r.GameID == "" {
		return errors.New("id is required")
	}
	if r.MarketName == "" {
		return errors.New("marketName is required")
	}
	return nil
}

// ErrUpstream marks any failure of the upstream provider: transport
// errors, non-2xx statuses, and 2xx responses with success=false.
var ErrUpstream = errors.New("provider: upstream failure")

// envelope is the provider's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// emptyPayload reports whether a decoded data field carries no content.
func emptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "[]", "{}", `""`:
		return true
	}
	return false
}
