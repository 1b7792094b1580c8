package dispatch

import (
	"encoding/json"
	"log/slog"

	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/swml"
)

// MaxResponseBytes is the largest reply the platform accepts in one piece.
const MaxResponseBytes = 100_000

// maxListItems is what an oversized embedded list is cut down to.
const maxListItems = 50

// oversizeResponse replaces a reply that is still too large after trimming.
const oversizeResponse = "I have that information, but it's too long to read out at once. " +
	"Could you tell me a little more about what you're looking for?"

// listKeys name the lists that may be trimmed, menus in particular.
var listKeys = []string{menu.MetaCachedMenu, "items", "menu"}

// encode serializes res, trimming embedded lists when the body exceeds the
// ceiling and falling back to a bare response if that is not enough.
func (d *Dispatcher) encode(logger *slog.Logger, res *swml.Result) []byte {
	data, err := json.Marshal(res)
	if err != nil {
		logger.Error("encoding result failed", "error", err)
		return mustJSON(map[string]any{"response": ErrorResponse})
	}
	limit := d.cfg.MaxResponseBytes
	if len(data) <= limit {
		return data
	}

	logger.Warn("large response", "bytes", len(data))
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err == nil {
		if trimLists(generic) {
			if trimmed, err := json.Marshal(generic); err == nil && len(trimmed) <= limit {
				logger.Info("response trimmed", "bytes", len(trimmed))
				return trimmed
			}
		}
	}

	response := res.Response
	if len(response) > limit/2 {
		response = oversizeResponse
	}
	fallback := mustJSON(map[string]any{"response": response})
	if len(fallback) > limit {
		fallback = mustJSON(map[string]any{"response": oversizeResponse})
	}
	logger.Warn("response replaced", "bytes", len(fallback))
	return fallback
}

// trimLists walks v cutting every list under a listKeys key to maxListItems,
// marking the enclosing object truncated with the original count.
func trimLists(v any) bool {
	changed := false
	switch t := v.(type) {
	case map[string]any:
		for _, key := range listKeys {
			list, ok := t[key].([]any)
			if !ok || len(list) <= maxListItems {
				continue
			}
			t[key] = list[:maxListItems]
			t["truncated"] = true
			t["original_count"] = len(list)
			changed = true
		}
		for _, child := range t {
			if trimLists(child) {
				changed = true
			}
		}
	case []any:
		for _, child := range t {
			if trimLists(child) {
				changed = true
			}
		}
	}
	return changed
}
