// Package source reads territories and their history from wherever the field-service app
// left them: a JSON export, the local store, or a MongoDB database.
package source

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"s13report/internal/domain"
)

type Source interface {
	Territories(ctx context.Context) ([]domain.Territory, error)
	History(ctx context.Context) ([]domain.HistoryEvent, error)
}

// Snapshot is everything a report needs from a source.
type Snapshot struct {
	Territories []domain.Territory
	History     []domain.HistoryEvent
}

// Load fetches territories and history concurrently. The first failure cancels the other
// fetch.
func Load(ctx context.Context, src Source) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := src.Territories(gctx)
		if err != nil {
			return fmt.Errorf("load territories: %w", err)
		}
		snap.Territories = t
		return nil
	})
	g.Go(func() error {
		h, err := src.History(gctx)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		snap.History = h
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

var (
	territoryIDKeys   = []string{"id", "_id", "territoryId"}
	territoryNameKeys = []string{"name", "nombre", "title", "number"}
)

// NormalizeTerritory maps a raw territory record. Records without an id are rejected;
// a missing name falls back to the id.
func NormalizeTerritory(raw map[string]any) (domain.Territory, bool) {
	var t domain.Territory
	for _, k := range territoryIDKeys {
		if v, ok := raw[k]; ok && v != nil {
			t.ID = text(v)
			break
		}
	}
	if strings.TrimSpace(t.ID) == "" {
		return t, false
	}
	for _, k := range territoryNameKeys {
		if v, ok := raw[k]; ok && v != nil {
			t.Name = text(v)
			break
		}
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	return t, true
}

func text(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case interface{ Hex() string }:
		return val.Hex()
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
	}
	return fmt.Sprint(v)
}
