package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"s13report/internal/config"
	"s13report/internal/domain"
	"s13report/internal/events"
	"s13report/internal/period"
	"s13report/internal/reconcile"
	"s13report/internal/report"
	"s13report/internal/repo"
	"s13report/internal/source"
)

// Archiver receives a copy of every generated report.
type Archiver interface {
	StoreS13(ctx context.Context, runID uuid.UUID, data domain.S13Data) error
	StoreSummary(ctx context.Context, runID uuid.UUID, sum domain.SimpleSummary) error
}

// Engine ties the report core to the workspace store: it loads sources, runs the
// generator and records what it produced.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
	Logger  *zap.Logger
	Archive Archiver
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Logger: logger,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// Location is the zone report periods are computed in.
func (e Engine) Location() *time.Location {
	loc, err := e.Config.Location()
	if err != nil {
		return time.Local
	}
	return loc
}

// Generator builds a report generator from the configured slots and match window.
func (e Engine) Generator() report.Generator {
	g := report.New(e.logger())
	g.Now = e.now
	g.MaxSlots = e.Config.Report.MaxSlots
	g.Location = e.Location()
	g.Reconciler = reconcile.Engine{MatchWindow: e.Config.MatchWindow()}
	return g
}

// Resolve turns a period selection into a concrete range in the configured zone.
func (e Engine) Resolve(sel period.Selection) (period.Range, error) {
	return sel.Resolve(e.now(), e.Location())
}

// ServiceYears lists the selectable service years, newest first.
func (e Engine) ServiceYears() []int {
	return period.AvailableServiceYears(e.now().In(e.Location()))
}

// Import loads an export into the store. Territories are upserted; history rows already
// present by content are skipped, so importing the same file twice changes nothing.
func (e Engine) Import(ctx context.Context, exp source.Export, actorID string) (domain.ImportResult, error) {
	res := domain.ImportResult{
		BatchID:        uuid.NewString(),
		HistoryRead:    len(exp.History),
		HistorySkipped: exp.Skipped,
	}
	importedAt := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	for _, t := range exp.Territories {
		if err := e.Repo.UpsertTerritory(ctx, tx, t, importedAt); err != nil {
			return res, fmt.Errorf("territory %s: %w", t.ID, err)
		}
		res.Territories++
	}
	for _, evt := range exp.History {
		added, err := e.Repo.InsertHistory(ctx, tx, evt, res.BatchID, importedAt)
		if err != nil {
			return res, fmt.Errorf("history for territory %s: %w", evt.TerritoryID, err)
		}
		if added {
			res.HistoryInserted++
		} else {
			res.HistoryDuplicate++
		}
	}
	if err := e.Events.Append(ctx, tx, events.ImportCompleted, "import", res.BatchID, actorID, events.EventPayload{
		"territories":       res.Territories,
		"history_inserted":  res.HistoryInserted,
		"history_duplicate": res.HistoryDuplicate,
		"history_skipped":   res.HistorySkipped,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	e.logger().Info("import completed",
		zap.String("batch_id", res.BatchID),
		zap.Int("territories", res.Territories),
		zap.Int("inserted", res.HistoryInserted),
		zap.Int("duplicates", res.HistoryDuplicate),
		zap.Int("skipped", res.HistorySkipped))
	return res, nil
}

// S13 generates the full report from src and records the run.
func (e Engine) S13(ctx context.Context, src source.Source, rng period.Range, actorID string) (domain.S13Data, domain.ReportRun, error) {
	snap, err := source.Load(ctx, src)
	if err != nil {
		return domain.S13Data{}, domain.ReportRun{}, err
	}
	data, err := e.Generator().S13(snap.History, snap.Territories, rng)
	if err != nil {
		return domain.S13Data{}, domain.ReportRun{}, err
	}
	run, err := e.record(ctx, domain.ReportKindS13, rng, data.Stats, len(data.Ambiguities), actorID)
	if err != nil {
		return data, run, err
	}
	if e.Archive != nil {
		e.archive(ctx, run, func(id uuid.UUID) error { return e.Archive.StoreS13(ctx, id, data) })
	}
	return data, run, nil
}

// Summary generates the coverage summary from src and records the run.
func (e Engine) Summary(ctx context.Context, src source.Source, rng period.Range, actorID string) (domain.SimpleSummary, domain.ReportRun, error) {
	snap, err := source.Load(ctx, src)
	if err != nil {
		return domain.SimpleSummary{}, domain.ReportRun{}, err
	}
	sum, err := e.Generator().Simple(snap.History, snap.Territories, rng)
	if err != nil {
		return domain.SimpleSummary{}, domain.ReportRun{}, err
	}
	run, err := e.record(ctx, domain.ReportKindSummary, rng, sum.Stats, 0, actorID)
	if err != nil {
		return sum, run, err
	}
	if e.Archive != nil {
		e.archive(ctx, run, func(id uuid.UUID) error { return e.Archive.StoreSummary(ctx, id, sum) })
	}
	return sum, run, nil
}

func (e Engine) record(ctx context.Context, kind string, rng period.Range, stats any, ambiguities int, actorID string) (domain.ReportRun, error) {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return domain.ReportRun{}, fmt.Errorf("marshal stats: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	run := domain.ReportRun{
		ID:          uuid.NewString(),
		Kind:        kind,
		PeriodStart: rng.Start.Format(time.RFC3339),
		PeriodEnd:   rng.End.Format(time.RFC3339),
		PeriodLabel: rng.Label,
		StatsJSON:   string(statsJSON),
		Ambiguities: ambiguities,
		ActorID:     actorID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if e.DB == nil {
		return run, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return run, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReportRun(ctx, tx, run); err != nil {
		return run, fmt.Errorf("record report run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ReportGenerated, "report_run", run.ID, actorID, events.EventPayload{
		"kind":         kind,
		"period_start": run.PeriodStart,
		"period_end":   run.PeriodEnd,
		"ambiguities":  ambiguities,
	}); err != nil {
		return run, err
	}
	return run, tx.Commit()
}

// archive failures are logged; the report itself is already generated and recorded.
func (e Engine) archive(ctx context.Context, run domain.ReportRun, store func(uuid.UUID) error) {
	id, err := uuid.Parse(run.ID)
	if err == nil {
		err = store(id)
	}
	if err != nil {
		e.logger().Error("archive report", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	if e.DB == nil {
		return
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.logger().Error("record archive event", zap.Error(err))
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.ReportArchived, "report_run", run.ID, run.ActorID, events.EventPayload{"kind": run.Kind}); err != nil {
		e.logger().Error("record archive event", zap.Error(err))
		return
	}
	if err := tx.Commit(); err != nil {
		e.logger().Error("record archive event", zap.Error(err))
	}
}

const apiKeyPrefix = "s13_"

// CreateAPIKey issues a new key for actorID. The plain key is returned once; only its
// hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (string, domain.APIKey, error) {
	if strings.TrimSpace(actorID) == "" {
		return "", domain.APIKey{}, errors.New("actor is required")
	}
	plain := apiKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}
