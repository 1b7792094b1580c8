// Package menu keeps a short-lived snapshot of the available menu.
//
// The snapshot travels inside the per-call meta_data object that the voice
// platform echoes back on every tool invocation, so a call reuses the menu
// it first saw instead of reloading it from the datastore on each request.
package menu

import (
	"errors"
	"strings"

	"github.com/teslashibe/bobbys-table/pkg/money"
)

// Sentinel errors for menu access.
var (
	// ErrMenuUnavailable is returned when no snapshot, reload or stub is available.
	ErrMenuUnavailable = errors.New("menu: unavailable")

	// ErrInvalidItem is returned by Validate for malformed entries.
	ErrInvalidItem = errors.New("menu: invalid item")
)

// Food and drink categories used for assignment priority.
var drinkCategories = map[string]bool{
	"drinks":      true,
	"drink":       true,
	"beverages":   true,
	"beverage":    true,
	"beer":        true,
	"wine":        true,
	"cocktails":   true,
	"soft drinks": true,
}

// Item is one menu entry as seen by the tool handlers.
type Item struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Category     string      `json:"category"`
	PriceCents   money.Cents `json:"price_cents"`
	IsAvailable  bool        `json:"is_available"`
	FallbackUsed bool        `json:"fallback_used,omitempty"`
}

// IsDrink reports whether the item belongs to a drink category.
func (i Item) IsDrink() bool {
	return drinkCategories[strings.ToLower(strings.TrimSpace(i.Category))]
}

// Validate checks the fields a snapshot entry must carry.
func (i Item) Validate() error {
	switch {
	case i.ID <= 0:
		return ErrInvalidItem
	case strings.TrimSpace(i.Name) == "":
		return ErrInvalidItem
	case i.PriceCents < 0:
		return ErrInvalidItem
	}
	return nil
}

// Index provides lookups over a snapshot.
type Index struct {
	byID   map[int64]Item
	byName map[string]Item
	items  []Item
}

// NewIndex builds an index over items. Later duplicates do not replace earlier ones.
func NewIndex(items []Item) *Index {
	idx := &Index{
		byID:   make(map[int64]Item, len(items)),
		byName: make(map[string]Item, len(items)),
		items:  items,
	}
	for _, it := range items {
		if _, ok := idx.byID[it.ID]; !ok {
			idx.byID[it.ID] = it
		}
		key := NormalizeName(it.Name)
		if _, ok := idx.byName[key]; !ok {
			idx.byName[key] = it
		}
	}
	return idx
}

// ByID returns the item with the given id.
func (x *Index) ByID(id int64) (Item, bool) {
	it, ok := x.byID[id]
	return it, ok
}

// ByName returns the item whose name matches case-insensitively.
func (x *Index) ByName(name string) (Item, bool) {
	it, ok := x.byName[NormalizeName(name)]
	return it, ok
}

// Items returns the indexed snapshot.
func (x *Index) Items() []Item {
	return x.items
}

// Len returns the number of indexed items.
func (x *Index) Len() int {
	return len(x.items)
}

// Categories returns the distinct categories in snapshot order.
func (x *Index) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range x.items {
		c := strings.ToLower(it.Category)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// NormalizeName lowercases and collapses whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
