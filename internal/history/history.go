// Package history turns raw territory history records, as exported from the field-service
// app, into domain.HistoryEvent values.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"s13report/internal/domain"
	"s13report/internal/period"
)

var ErrMissingTerritory = errors.New("history record has no territory id")

var (
	territoryKeys = []string{"territoryId", "territory_id", "territory"}
	idKeys        = []string{"id", "_id"}
	assigneeKeys  = []string{"assignedTo", "assigned_to", "assignedToName", "publisher", "assignee"}
	assignedKeys  = []string{"assignedDate", "assigned_date", "assignedAt", "date"}
	completedKeys = []string{"completedDate", "completed_date", "completedAt"}
)

// DisplayName joins a team with " y " between every name, so three names read
// "Ana y Luis y Eva".
func DisplayName(names []string) string {
	return strings.Join(names, " y ")
}

func IsAssignment(status string) bool {
	return status == domain.StatusAssigned || status == domain.StatusReassigned
}

func IsCompletion(status string) bool {
	return status == domain.StatusCompleted || status == domain.StatusAutoCompleted
}

// Normalize maps one raw record onto the canonical event shape. Dates without an offset
// are read in the local zone.
func Normalize(raw map[string]any) (domain.HistoryEvent, error) {
	return NormalizeIn(raw, time.Local)
}

// NormalizeIn is Normalize with dates without an offset read in loc.
func NormalizeIn(raw map[string]any, loc *time.Location) (domain.HistoryEvent, error) {
	var evt domain.HistoryEvent
	territory, ok := first(raw, territoryKeys)
	if !ok {
		return evt, ErrMissingTerritory
	}
	evt.TerritoryID = stringValue(territory)
	if strings.TrimSpace(evt.TerritoryID) == "" {
		return evt, ErrMissingTerritory
	}
	if id, ok := first(raw, idKeys); ok {
		evt.ID = stringValue(id)
	}
	if status, ok := raw["status"]; ok {
		evt.Status = stringValue(status)
	}
	if who, ok := first(raw, assigneeKeys); ok {
		evt.AssignedTo = Names(who)
	}
	if when, ok := first(raw, assignedKeys); ok {
		evt.AssignedDate = period.ToDateIn(when, loc)
	}
	if when, ok := first(raw, completedKeys); ok {
		evt.CompletedDate = period.ToDateIn(when, loc)
	}
	return evt, nil
}

// NormalizeAll keeps every record it can read and counts the rest.
func NormalizeAll(raws []map[string]any) ([]domain.HistoryEvent, int) {
	return NormalizeAllIn(raws, time.Local)
}

func NormalizeAllIn(raws []map[string]any, loc *time.Location) ([]domain.HistoryEvent, int) {
	out := make([]domain.HistoryEvent, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		evt, err := NormalizeIn(raw, loc)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, evt)
	}
	return out, skipped
}

// Names reads an assignee value that may be a single name or a team list.
func Names(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return []string{}
		}
		return []string{val}
	case []string:
		return append([]string{}, val...)
	case []any:
		names := make([]string, 0, len(val))
		for _, n := range val {
			if s := stringValue(n); s != "" {
				names = append(names, s)
			}
		}
		return names
	default:
		return []string{stringValue(val)}
	}
}

func first(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case interface{ Hex() string }:
		return val.Hex()
	case fmt.Stringer:
		return val.String()
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Fingerprint identifies an event so re-importing the same export adds no rows. Records
// with a source id are keyed by it; the rest by content.
func Fingerprint(evt domain.HistoryEvent) string {
	h := sha256.New()
	if id := strings.TrimSpace(evt.ID); id != "" {
		fmt.Fprintf(h, "id\x00%s\x00%s", evt.TerritoryID, id)
		return hex.EncodeToString(h.Sum(nil))
	}
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s", evt.TerritoryID, evt.Status,
		strings.Join(evt.AssignedTo, "\x1f"), stamp(evt.AssignedDate), stamp(evt.CompletedDate))
	return hex.EncodeToString(h.Sum(nil))
}

func stamp(t *time.Time) string {
	switch {
	case t == nil:
		return "-"
	case t.IsZero():
		return "invalid"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
