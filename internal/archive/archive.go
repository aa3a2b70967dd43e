// Package archive keeps a Postgres copy of every generated report so past runs can be
// compared after the source history changes.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"s13report/internal/domain"
	"s13report/internal/period"
)

const DefaultSchema = "s13_archive"

var validSchema = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SanitizeSchema rejects anything that is not a plain identifier, since the schema name
// is interpolated into statements.
func SanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("archive schema is required")
	}
	if !validSchema.MatchString(value) {
		return "", fmt.Errorf("invalid schema name: %s", value)
	}
	return value, nil
}

type Archive struct {
	DB     *sql.DB
	Schema string
	Logger *zap.Logger
}

// Open connects to url, checks the connection and creates the archive tables if needed.
func Open(ctx context.Context, url, schema string, logger *zap.Logger) (*Archive, error) {
	if url == "" {
		return nil, errors.New("archive database url is empty")
	}
	schema, err := SanitizeSchema(schema)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 12*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	a := &Archive{DB: db, Schema: schema, Logger: logger}
	if err := a.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive schema: %w", err)
	}
	return a, nil
}

func (a *Archive) Close() error {
	return a.DB.Close()
}

func (a *Archive) logger() *zap.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return zap.NewNop()
}

func (a *Archive) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(a.Schema) {
		if _, err := a.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func schemaStatements(schema string) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.report_runs (
			id uuid PRIMARY KEY,
			kind text NOT NULL,
			period_start timestamptz NOT NULL,
			period_end timestamptz NOT NULL,
			period_label text,
			generated_at timestamptz NOT NULL,
			stats jsonb NOT NULL,
			ambiguities integer NOT NULL DEFAULT 0,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.lifecycles (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.report_runs(id) ON DELETE CASCADE,
			territory_id text NOT NULL,
			territory_name text NOT NULL,
			territory_number integer NOT NULL,
			assigned_to text NOT NULL,
			assigned_date timestamptz,
			completed_date timestamptz,
			days integer NOT NULL,
			status text NOT NULL
		)`, schema, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.territory_summaries (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.report_runs(id) ON DELETE CASCADE,
			territory_id text NOT NULL,
			territory_name text NOT NULL,
			territory_number integer NOT NULL,
			assignments integer NOT NULL,
			completed_count integer NOT NULL,
			average_days integer,
			last_completed date
		)`, schema, schema),
	}
}

// StoreS13 archives one full report under runID.
func (a *Archive) StoreS13(ctx context.Context, runID uuid.UUID, data domain.S13Data) (err error) {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = a.insertRun(ctx, tx, runID, domain.ReportKindS13, data.PeriodStart, data.PeriodEnd, data.PeriodLabel, data.GeneratedAt, data.Stats, len(data.Ambiguities)); err != nil {
		return err
	}
	insertLifecycle := fmt.Sprintf(`
		INSERT INTO %s.lifecycles (
			id, run_id, territory_id, territory_name, territory_number,
			assigned_to, assigned_date, completed_date, days, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, a.Schema)
	for _, e := range data.DetailList {
		if _, err = tx.ExecContext(ctx, insertLifecycle,
			uuid.New(), runID, e.TerritoryID, e.TerritoryName, e.TerritoryNumber,
			e.AssignedTo, nullTime(e.AssignedDate), nullTime(e.CompletedDate), e.Days, e.Status,
		); err != nil {
			return fmt.Errorf("archive lifecycle: %w", err)
		}
	}
	insertSummary := a.insertSummarySQL()
	for _, s := range data.SummaryByTerritory {
		if _, err = tx.ExecContext(ctx, insertSummary,
			uuid.New(), runID, s.TerritoryID, s.TerritoryName, s.TerritoryNumber,
			s.TotalAssignments, s.CompletedCount, nil, nullDate(s.LastCompletedInPeriod),
		); err != nil {
			return fmt.Errorf("archive territory summary: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	a.logger().Info("report archived", zap.String("run_id", runID.String()), zap.String("kind", domain.ReportKindS13),
		zap.Int("lifecycles", len(data.DetailList)))
	return nil
}

// StoreSummary archives one coverage summary under runID.
func (a *Archive) StoreSummary(ctx context.Context, runID uuid.UUID, sum domain.SimpleSummary) (err error) {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = a.insertRun(ctx, tx, runID, domain.ReportKindSummary, sum.PeriodStart, sum.PeriodEnd, sum.PeriodLabel, sum.GeneratedAt, sum.Stats, 0); err != nil {
		return err
	}
	insertSummary := a.insertSummarySQL()
	for _, s := range sum.Summary {
		if _, err = tx.ExecContext(ctx, insertSummary,
			uuid.New(), runID, s.TerritoryID, s.TerritoryName, s.TerritoryNumber,
			s.CompletedCount, s.CompletedCount, nullInt(s.AverageDays), nullDate(s.LastCompleted),
		); err != nil {
			return fmt.Errorf("archive territory summary: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	a.logger().Info("report archived", zap.String("run_id", runID.String()), zap.String("kind", domain.ReportKindSummary))
	return nil
}

func (a *Archive) insertRun(ctx context.Context, tx *sql.Tx, runID uuid.UUID, kind string, start, end time.Time, label string, generated time.Time, stats any, ambiguities int) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.report_runs (
			id, kind, period_start, period_end, period_label, generated_at, stats, ambiguities
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, a.Schema),
		runID, kind, start, end, nullString(label), generated, string(statsJSON), ambiguities)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	return nil
}

func (a *Archive) insertSummarySQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s.territory_summaries (
			id, run_id, territory_id, territory_name, territory_number,
			assignments, completed_count, average_days, last_completed
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, a.Schema)
}

func nullTime(t *time.Time) any {
	if !period.Valid(t) {
		return nil
	}
	return *t
}

// nullDate stores the calendar day only.
func nullDate(t *time.Time) any {
	if !period.Valid(t) {
		return nil
	}
	return t.Format("2006-01-02")
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
