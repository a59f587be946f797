package hotkeys

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"oddsedge-gateway/internal/cache"
)

// DefaultPrefix is the cache namespace hot records live under.
const DefaultPrefix = "hot:odds:"

// Record is the payload stored per hot key.
type Record struct {
	GameID    string    `json:"gameId"`
	SportID   string    `json:"sportId"`
	RenewedAt time.Time `json:"renewedAt"`
}

// Registry tracks which game ids are "hot": requested recently enough to
// be within HotTTL. It is a view over a key prefix of the cache store —
// records age out by cache expiry, so a client that stops requesting
// drops its keys from the polling set within HotTTL with no explicit
// unsubscribe.
type Registry struct {
	store          cache.Store
	prefix         string
	hotTTL         time.Duration
	defaultSportID string
	logger         *zap.Logger
}

func NewRegistry(store cache.Store, prefix string, hotTTL time.Duration, defaultSportID string, logger *zap.Logger) *Registry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if hotTTL <= 0 {
		hotTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:          store,
		prefix:         prefix,
		hotTTL:         hotTTL,
		defaultSportID: defaultSportID,
		logger:         logger.Named("hotkeys"),
	}
}

// Mark records gameID as hot. Idempotent: a repeat call renews the
// record's TTL. Concurrent marks for the same id race benignly — both
// write the same TTL.
func (r *Registry) Mark(ctx context.Context, gameID, sportID string) error {
	if sportID == "" {
		sportID = r.defaultSportID
	}
	rec := Record{
		GameID:    gameID,
		SportID:   sportID,
		RenewedAt: time.Now(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, r.prefix+gameID, payload, r.hotTTL)
}

// List returns all currently-hot records. Expiry is double-checked
// against renewedAt+HotTTL so a backend that serves entries past their
// fresh deadline cannot extend hotness. Records written by older
// deployments without metadata decode to the default sport id.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	keys, err := r.store.KeysMatching(ctx, r.prefix+"*")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		payload, ok, err := r.store.Get(ctx, key)
		if err != nil {
			r.logger.Warn("hot record read failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if !ok {
			// Expired between scan and read.
			continue
		}

		rec := r.decode(key, payload)
		if !rec.RenewedAt.IsZero() && now.After(rec.RenewedAt.Add(r.hotTTL)) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// decode tolerates legacy records: anything that does not unmarshal into
// the current schema becomes a record with the id taken from the key and
// the default sport id.
func (r *Registry) decode(key string, payload []byte) Record {
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil || rec.GameID == "" {
		return Record{
			GameID:  key[len(r.prefix):],
			SportID: r.defaultSportID,
		}
	}
	if rec.SportID == "" {
		rec.SportID = r.defaultSportID
	}
	return rec
}

// HotTTL returns the configured aging window.
func (r *Registry) HotTTL() time.Duration {
	return r.hotTTL
}
