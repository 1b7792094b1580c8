package menu

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func sampleMenu() []Item {
	return []Item{
		{ID: 1, Name: "Buffalo Wings", Category: "appetizers", PriceCents: 1299, IsAvailable: true},
		{ID: 2, Name: "Mushroom Swiss Burger", Category: "main-courses", PriceCents: 1599, IsAvailable: true},
		{ID: 3, Name: "House Salad", Category: "appetizers", PriceCents: 899, IsAvailable: true},
		{ID: 4, Name: "Draft Beer", Category: "drinks", PriceCents: 599, IsAvailable: true},
		{ID: 5, Name: "Iced Tea", Category: "drinks", PriceCents: 299, IsAvailable: true},
		{ID: 6, Name: "Cheesecake", Category: "desserts", PriceCents: 799, IsAvailable: false},
	}
}

type countingLoader struct {
	calls atomic.Int32
	items []Item
	err   error
}

func (l *countingLoader) AvailableMenu(ctx context.Context) ([]Item, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.items, nil
}

// roundTrip simulates the platform echoing meta_data back as plain JSON.
func roundTrip(t *testing.T, meta Meta) Meta {
	t.Helper()
	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal meta: %v", err)
	}
	var out Meta
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}
	return out
}

func TestCacheLoadsAndReusesSnapshot(t *testing.T) {
	loader := &countingLoader{items: sampleMenu()}
	now := time.Date(2025, 6, 9, 18, 0, 0, 0, time.UTC)
	cache := NewCache(loader, WithClock(func() time.Time { return now }))

	items, meta, err := cache.Get(context.Background(), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 available items, got %d", len(items))
	}
	if meta[MetaItemCount] != 5 {
		t.Errorf("expected item count in meta, got %v", meta[MetaItemCount])
	}

	now = now.Add(5 * time.Minute)
	again, _, err := cache.Get(context.Background(), roundTrip(t, meta))
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if len(again) != 5 {
		t.Errorf("expected cached snapshot of 5 items, got %d", len(again))
	}
	if loader.calls.Load() != 1 {
		t.Errorf("expected one load, got %d", loader.calls.Load())
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	loader := &countingLoader{items: sampleMenu()}
	now := time.Date(2025, 6, 9, 18, 0, 0, 0, time.UTC)
	cache := NewCache(loader, WithClock(func() time.Time { return now }))

	_, meta, _ := cache.Get(context.Background(), nil)
	now = now.Add(11 * time.Minute)
	if _, _, err := cache.Get(context.Background(), roundTrip(t, meta)); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Errorf("expected reload after TTL, got %d loads", loader.calls.Load())
	}
}

func TestCacheSmallSnapshotReloads(t *testing.T) {
	loader := &countingLoader{items: sampleMenu()}
	cache := NewCache(loader)
	meta := Meta{
		MetaCachedMenu: sampleMenu()[:2],
		MetaCachedAt:   time.Now().Format(time.RFC3339Nano),
	}
	items, _, err := cache.Get(context.Background(), meta)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(items) != 5 || loader.calls.Load() != 1 {
		t.Errorf("expected reload for undersized snapshot, got %d items, %d loads", len(items), loader.calls.Load())
	}
}

func TestCacheFallbacks(t *testing.T) {
	t.Run("expired snapshot", func(t *testing.T) {
		loader := &countingLoader{err: errors.New("db down")}
		cache := NewCache(loader, WithRetry(3, time.Millisecond))
		meta := Meta{
			MetaCachedMenu: sampleMenu()[:5],
			MetaCachedAt:   time.Now().Add(-time.Hour).Format(time.RFC3339Nano),
		}
		items, _, err := cache.Get(context.Background(), meta)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if loader.calls.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", loader.calls.Load())
		}
		for _, it := range items {
			if !it.FallbackUsed {
				t.Errorf("expected fallback flag on %q", it.Name)
			}
		}
	})

	t.Run("stub", func(t *testing.T) {
		cache := NewCache(&countingLoader{err: errors.New("db down")}, WithRetry(1, 0))
		items, _, err := cache.Get(context.Background(), nil)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(items) != 3 {
			t.Errorf("expected 3 stub items, got %d", len(items))
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		cache := NewCache(&countingLoader{err: errors.New("db down")}, WithRetry(1, 0), WithStub(nil))
		if _, _, err := cache.Get(context.Background(), nil); !errors.Is(err, ErrMenuUnavailable) {
			t.Errorf("expected ErrMenuUnavailable, got %v", err)
		}
	})
}

func TestIndexLookups(t *testing.T) {
	idx := NewIndex(sampleMenu())
	if it, ok := idx.ByName("  buffalo   WINGS "); !ok || it.ID != 1 {
		t.Errorf("ByName failed: %+v %v", it, ok)
	}
	if _, ok := idx.ByID(99); ok {
		t.Error("ByID should miss unknown id")
	}
	if !(Item{Category: "Drinks"}).IsDrink() {
		t.Error("expected drinks category to be a drink")
	}
}
