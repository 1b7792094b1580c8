package menu

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Meta keys written into the platform meta_data object.
const (
	MetaCachedMenu = "cached_menu"
	MetaCachedAt   = "menu_cached_at"
	MetaItemCount  = "menu_item_count"
)

// maxSnapshotItems bounds a snapshot accepted from meta_data.
const maxSnapshotItems = 500

// Meta is the platform's per-call meta_data object.
type Meta map[string]any

// Loader reads the currently available menu from the datastore.
type Loader interface {
	AvailableMenu(ctx context.Context) ([]Item, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) ([]Item, error)

// AvailableMenu calls f.
func (f LoaderFunc) AvailableMenu(ctx context.Context) ([]Item, error) {
	return f(ctx)
}

// Config holds cache tuning.
type Config struct {
	TTL      time.Duration
	MinItems int
	Attempts int
	Backoff  time.Duration
	Stub     []Item
	Now      func() time.Time
	Logger   *slog.Logger
}

// Option configures the cache.
type Option func(*Config)

// WithTTL sets how long a snapshot stays fresh.
func WithTTL(d time.Duration) Option {
	return func(c *Config) { c.TTL = d }
}

// WithRetry sets the reload attempts and the delay between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Config) {
		c.Attempts = attempts
		c.Backoff = backoff
	}
}

// WithStub replaces the last-resort stub menu. A nil stub disables it.
func WithStub(items []Item) Option {
	return func(c *Config) { c.Stub = items }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the production cache settings.
func DefaultConfig() *Config {
	return &Config{
		TTL:      10 * time.Minute,
		MinItems: 5,
		Attempts: 3,
		Backoff:  100 * time.Millisecond,
		Stub:     DefaultStub(),
		Now:      time.Now,
		Logger:   slog.Default(),
	}
}

// DefaultStub is served when neither the datastore nor any snapshot is available.
func DefaultStub() []Item {
	return []Item{
		{ID: 1, Name: "House Salad", Category: "appetizers", PriceCents: 899, IsAvailable: true, FallbackUsed: true},
		{ID: 2, Name: "Classic Burger", Category: "main-courses", PriceCents: 1499, IsAvailable: true, FallbackUsed: true},
		{ID: 3, Name: "Iced Tea", Category: "drinks", PriceCents: 299, IsAvailable: true, FallbackUsed: true},
	}
}

// Cache serves menu snapshots with freshness checks and fallbacks.
type Cache struct {
	loader Loader
	cfg    *Config
	logger *slog.Logger

	mu     sync.RWMutex
	last   []Item
	lastAt time.Time
}

// NewCache creates a cache backed by loader.
func NewCache(loader Loader, opts ...Option) *Cache {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Cache{
		loader: loader,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "menu.cache"),
	}
}

// Get returns the menu for a call. A fresh snapshot in meta is reused as is;
// otherwise the menu is reloaded and written back into a copy of meta.
func (c *Cache) Get(ctx context.Context, meta Meta) ([]Item, Meta, error) {
	out := cloneMeta(meta)
	now := c.cfg.Now()

	snapshot, cachedAt := decodeSnapshot(meta)
	if c.fresh(snapshot, cachedAt, now) {
		return snapshot, out, nil
	}

	items, err := c.reload(ctx)
	if err == nil {
		c.remember(items, now)
		writeSnapshot(out, items, now)
		return items, out, nil
	}

	c.logger.Warn("menu reload failed, using fallback", "error", err)

	if len(snapshot) > 0 {
		return markFallback(snapshot), out, nil
	}
	if last := c.lastSnapshot(); len(last) > 0 {
		items := markFallback(last)
		writeSnapshot(out, items, now)
		return items, out, nil
	}
	if len(c.cfg.Stub) > 0 {
		items := markFallback(c.cfg.Stub)
		return items, out, nil
	}
	return nil, out, ErrMenuUnavailable
}

// Invalidate drops the process-level snapshot.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.last = nil
	c.lastAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) fresh(items []Item, at time.Time, now time.Time) bool {
	if at.IsZero() || len(items) < c.cfg.MinItems {
		return false
	}
	return now.Sub(at) < c.cfg.TTL
}

func (c *Cache) reload(ctx context.Context) ([]Item, error) {
	attempts := c.cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.Backoff):
			}
		}
		items, err := c.loader.AvailableMenu(ctx)
		if err != nil {
			lastErr = err
			c.logger.Debug("menu load attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		valid := validItems(items)
		if len(valid) == 0 {
			lastErr = ErrMenuUnavailable
			continue
		}
		return valid, nil
	}
	return nil, lastErr
}

func (c *Cache) remember(items []Item, at time.Time) {
	c.mu.Lock()
	c.last = items
	c.lastAt = at
	c.mu.Unlock()
}

func (c *Cache) lastSnapshot() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func validItems(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Validate() != nil || !it.IsAvailable {
			continue
		}
		out = append(out, it)
		if len(out) == maxSnapshotItems {
			break
		}
	}
	return out
}

func markFallback(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		it.FallbackUsed = true
		out[i] = it
	}
	return out
}

func cloneMeta(meta Meta) Meta {
	out := make(Meta, len(meta)+3)
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func writeSnapshot(meta Meta, items []Item, at time.Time) {
	meta[MetaCachedMenu] = items
	meta[MetaCachedAt] = at.Format(time.RFC3339Nano)
	meta[MetaItemCount] = len(items)
}

// decodeSnapshot reads a snapshot back from meta, which after a platform
// round trip holds plain JSON values rather than []Item.
func decodeSnapshot(meta Meta) ([]Item, time.Time) {
	if meta == nil {
		return nil, time.Time{}
	}
	raw, ok := meta[MetaCachedMenu]
	if !ok || raw == nil {
		return nil, time.Time{}
	}
	// A snapshot cut down to fit a reply is incomplete.
	if cut, _ := meta["truncated"].(bool); cut {
		return nil, time.Time{}
	}

	var items []Item
	switch v := raw.(type) {
	case []Item:
		items = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, time.Time{}
		}
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, time.Time{}
		}
	}
	if len(items) > maxSnapshotItems {
		return nil, time.Time{}
	}
	for _, it := range items {
		if it.Validate() != nil {
			return nil, time.Time{}
		}
	}

	var at time.Time
	if s, ok := meta[MetaCachedAt].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			at = t
		}
	}
	return items, at
}
