package hotkeys

import (
	"context"
	"testing"
	"time"

	"oddsedge-gateway/internal/cache"
	"oddsedge-gateway/internal/coalesce"
)

func newTestRegistry(t *testing.T, hotTTL time.Duration) (*Registry, cache.Store) {
	t.Helper()
	store := cache.NewMemoryStore(10*time.Millisecond, 2, coalesce.New(nil), nil)
	t.Cleanup(func() { store.Close() })
	return NewRegistry(store, DefaultPrefix, hotTTL, "4", nil), store
}

func TestRegistry_MarkThenList(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	if err := r.Mark(ctx, "g1", "2"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	records, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 hot record, got %d", len(records))
	}
	if records[0].GameID != "g1" || records[0].SportID != "2" {
		t.Fatalf("unexpected record %+v", records[0])
	}
}

func TestRegistry_MarkIsIdempotentAndRenews(t *testing.T) {
	r, _ := newTestRegistry(t, 60*time.Millisecond)
	ctx := context.Background()

	if err := r.Mark(ctx, "g1", "4"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	// Renew halfway through the window a few times; the record must stay
	// continuously present.
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		if err := r.Mark(ctx, "g1", "4"); err != nil {
			t.Fatalf("renewing Mark failed: %v", err)
		}
		records, err := r.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected record to survive renewal, got %d records", len(records))
		}
	}
}

func TestRegistry_AgingDropsSilentKeys(t *testing.T) {
	r, _ := newTestRegistry(t, 40*time.Millisecond)
	ctx := context.Background()

	if err := r.Mark(ctx, "g1", "4"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	// The store's stale window outlives HotTTL, but List re-checks
	// renewedAt, so the key still drops out on time.
	time.Sleep(60 * time.Millisecond)

	records, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected aged-out hot set to be empty, got %+v", records)
	}
}

func TestRegistry_DefaultSportIDForMissingMetadata(t *testing.T) {
	r, store := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	// A legacy record: not the current schema.
	if err := store.Set(ctx, DefaultPrefix+"g9", []byte(`"1"`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	records, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected legacy record to be tolerated, got %d", len(records))
	}
	if records[0].GameID != "g9" || records[0].SportID != "4" {
		t.Fatalf("expected fallback id and default sport, got %+v", records[0])
	}
}

func TestRegistry_EmptySportIDFallsBack(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	if err := r.Mark(ctx, "g1", ""); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	records, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 || records[0].SportID != "4" {
		t.Fatalf("expected default sport id, got %+v", records)
	}
}
