package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"s13report/internal/domain"
	"s13report/internal/history"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// execer lets helpers run inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) exec(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) UpsertTerritory(ctx context.Context, tx *sql.Tx, t domain.Territory, importedAt string) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("territory id required")
	}
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO territories(id,name,imported_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, imported_at=excluded.imported_at`,
		t.ID, t.Name, importedAt)
	return err
}

func (r Repo) GetTerritory(ctx context.Context, id string) (domain.Territory, error) {
	var t domain.Territory
	err := r.DB.QueryRowContext(ctx, `SELECT id,name FROM territories WHERE id=?`, id).Scan(&t.ID, &t.Name)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTerritories(ctx context.Context) ([]domain.Territory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM territories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Territory{}
	for rows.Next() {
		var t domain.Territory
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// InsertHistory stores evt unless an event with the same fingerprint is already present. It
// reports whether a row was added.
func (r Repo) InsertHistory(ctx context.Context, tx *sql.Tx, evt domain.HistoryEvent, batchID, importedAt string) (bool, error) {
	if evt.TerritoryID == "" {
		return false, history.ErrMissingTerritory
	}
	names := evt.AssignedTo
	if names == nil {
		names = []string{}
	}
	namesJSON, err := json.Marshal(names)
	if err != nil {
		return false, fmt.Errorf("marshal assignees: %w", err)
	}
	hash := history.Fingerprint(evt)
	res, err := r.exec(tx).ExecContext(ctx, `INSERT INTO history(id,source_id,territory_id,status,assigned_to,assigned_date,completed_date,content_hash,batch_id,imported_at)
VALUES (?,?,?,?,?,?,?,?,?,?) ON CONFLICT(content_hash) DO NOTHING`,
		hash, nullable(evt.ID), evt.TerritoryID, evt.Status, string(namesJSON),
		encodeDate(evt.AssignedDate), encodeDate(evt.CompletedDate), hash, batchID, importedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListHistory returns stored events in import order, optionally for one territory.
func (r Repo) ListHistory(ctx context.Context, territoryID string) ([]domain.HistoryEvent, error) {
	query := `SELECT COALESCE(source_id, id),territory_id,status,assigned_to,assigned_date,completed_date FROM history`
	var args []any
	if territoryID != "" {
		query += ` WHERE territory_id=?`
		args = append(args, territoryID)
	}
	query += ` ORDER BY rowid`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.HistoryEvent{}
	for rows.Next() {
		var (
			evt                 domain.HistoryEvent
			namesJSON           string
			assigned, completed sql.NullString
		)
		if err := rows.Scan(&evt.ID, &evt.TerritoryID, &evt.Status, &namesJSON, &assigned, &completed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(namesJSON), &evt.AssignedTo); err != nil {
			return nil, fmt.Errorf("history %s assignees: %w", evt.ID, err)
		}
		evt.AssignedDate = decodeDate(assigned)
		evt.CompletedDate = decodeDate(completed)
		res = append(res, evt)
	}
	return res, rows.Err()
}

func (r Repo) CountHistory(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n)
	return n, err
}

func (r Repo) InsertReportRun(ctx context.Context, tx *sql.Tx, run domain.ReportRun) error {
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO report_runs(id,kind,period_start,period_end,period_label,stats_json,ambiguities,actor_id,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Kind, run.PeriodStart, run.PeriodEnd, nullable(run.PeriodLabel), run.StatsJSON, run.Ambiguities, run.ActorID, run.CreatedAt)
	return err
}

const reportRunColumns = `id,kind,period_start,period_end,COALESCE(period_label,''),stats_json,ambiguities,actor_id,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReportRun(row rowScanner) (domain.ReportRun, error) {
	var run domain.ReportRun
	err := row.Scan(&run.ID, &run.Kind, &run.PeriodStart, &run.PeriodEnd, &run.PeriodLabel, &run.StatsJSON, &run.Ambiguities, &run.ActorID, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

func (r Repo) GetReportRun(ctx context.Context, id string) (domain.ReportRun, error) {
	return scanReportRun(r.DB.QueryRowContext(ctx, `SELECT `+reportRunColumns+` FROM report_runs WHERE id=?`, id))
}

func (r Repo) ListReportRuns(ctx context.Context, kind string, limit int) ([]domain.ReportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + reportRunColumns + ` FROM report_runs`
	var args []any
	if kind != "" {
		query += ` WHERE kind=?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ReportRun{}
	for rows.Next() {
		run, err := scanReportRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

// LatestEventsFrom pages backwards through the log from cursor (exclusive).
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter reads the log forward from cursor (exclusive), oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// encodeDate keeps the three date states apart: NULL when absent, '' when unreadable.
func encodeDate(t *time.Time) any {
	switch {
	case t == nil:
		return nil
	case t.IsZero():
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeDate(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		t = time.Time{}
	}
	return &t
}
