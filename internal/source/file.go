package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"s13report/internal/domain"
	"s13report/internal/history"
)

// Export is a decoded export document.
type Export struct {
	Territories []domain.Territory
	History     []domain.HistoryEvent
	// Skipped counts records that could not be used: territories without an id and
	// history entries without a territory.
	Skipped int
}

type exportDoc struct {
	Territories      []map[string]any `json:"territories"`
	TerritoryHistory []map[string]any `json:"territoryHistory"`
	History          []map[string]any `json:"history"`
}

// ReadExport decodes a {"territories": [...], "territoryHistory": [...]} document. Numbers
// keep their literal form so millisecond timestamps survive intact.
func ReadExport(r io.Reader) (Export, error) {
	return ReadExportIn(r, time.Local)
}

// ReadExportIn is ReadExport with dates that carry no offset read in loc.
func ReadExportIn(r io.Reader, loc *time.Location) (Export, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc exportDoc
	if err := dec.Decode(&doc); err != nil {
		return Export{}, fmt.Errorf("decode export: %w", err)
	}
	var out Export
	out.Territories = make([]domain.Territory, 0, len(doc.Territories))
	for _, raw := range doc.Territories {
		t, ok := NormalizeTerritory(raw)
		if !ok {
			out.Skipped++
			continue
		}
		out.Territories = append(out.Territories, t)
	}
	raws := doc.TerritoryHistory
	if len(raws) == 0 {
		raws = doc.History
	}
	events, skipped := history.NormalizeAllIn(raws, loc)
	out.History = events
	out.Skipped += skipped
	return out, nil
}

// File is a JSON export on disk.
type File struct {
	Path string
	// Location reads dates without an offset; nil means the local zone.
	Location *time.Location
	Logger   *zap.Logger
}

var _ Source = File{}

func (f File) read(ctx context.Context) (Export, error) {
	if err := ctx.Err(); err != nil {
		return Export{}, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return Export{}, err
	}
	defer fh.Close()
	exp, err := ReadExportIn(fh, f.Location)
	if err != nil {
		return Export{}, fmt.Errorf("%s: %w", f.Path, err)
	}
	if exp.Skipped > 0 && f.Logger != nil {
		f.Logger.Warn("export records skipped", zap.String("path", f.Path), zap.Int("skipped", exp.Skipped))
	}
	return exp, nil
}

func (f File) Territories(ctx context.Context) ([]domain.Territory, error) {
	exp, err := f.read(ctx)
	return exp.Territories, err
}

func (f File) History(ctx context.Context) ([]domain.HistoryEvent, error) {
	exp, err := f.read(ctx)
	return exp.History, err
}
