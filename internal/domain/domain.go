package domain

import "time"

// History statuses as written by the field-service app. The source data is free-form,
// anything else is ignored by the reconciler.
const (
	StatusAssigned      = "Asignado"
	StatusReassigned    = "Reasignado"
	StatusCompleted     = "Completado"
	StatusAutoCompleted = "Completado Automáticamente"
)

// Lifecycle statuses.
const (
	LifecycleCompleted  = "Completado"
	LifecycleInProgress = "En progreso"
)

type Territory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HistoryEvent is one logged assignment or completion. Dates are nil when absent; a
// non-nil zero time marks a value that could not be read as a date.
type HistoryEvent struct {
	ID            string     `json:"id,omitempty"`
	TerritoryID   string     `json:"territory_id"`
	Status        string     `json:"status"`
	AssignedTo    []string   `json:"assigned_to,omitempty"`
	AssignedDate  *time.Time `json:"assigned_date,omitempty" format:"date-time"`
	CompletedDate *time.Time `json:"completed_date,omitempty" format:"date-time"`
}

// Lifecycle is one span during which someone held a territory.
type Lifecycle struct {
	TerritoryID   string     `json:"territory_id"`
	AssignedTo    string     `json:"assigned_to"`
	AssignedDate  *time.Time `json:"assigned_date,omitempty" format:"date-time"`
	CompletedDate *time.Time `json:"completed_date,omitempty" format:"date-time"`
	Days          int        `json:"days"`
	Status        string     `json:"status" enum:"Completado,En progreso"`
	Month         string     `json:"month,omitempty"`
	MonthIndex    int        `json:"month_index"`
	Year          int        `json:"year,omitempty"`
}

// DetailEntry is a lifecycle tagged with its territory for flat listings.
type DetailEntry struct {
	Lifecycle
	TerritoryName   string `json:"territory_name"`
	TerritoryNumber int    `json:"territory_number"`
}

type MonthGroup struct {
	Year    int           `json:"year"`
	Month   int           `json:"month"`
	Label   string        `json:"label"`
	Entries []DetailEntry `json:"entries"`
}

type TerritorySummary struct {
	TerritoryID           string      `json:"territory_id"`
	TerritoryName         string      `json:"territory_name"`
	TerritoryNumber       int         `json:"territory_number"`
	Assignments           []Lifecycle `json:"assignments"`
	TotalAssignments      int         `json:"total_assignments"`
	CompletedCount        int         `json:"completed_count"`
	LastCompletedBefore   *time.Time  `json:"last_completed_before,omitempty" format:"date-time"`
	LastCompletedInPeriod *time.Time  `json:"last_completed_in_period,omitempty" format:"date-time"`
}

type S13Stats struct {
	TotalTerritories        int `json:"total_territories"`
	TerritoriesWithActivity int `json:"territories_with_activity"`
	TotalAssignments        int `json:"total_assignments"`
	CompletedAssignments    int `json:"completed_assignments"`
	InProgressAssignments   int `json:"in_progress_assignments"`
}

// Ambiguity flags a pairing the reconciler could not make with certainty. It never
// changes the lifecycles produced.
type Ambiguity struct {
	TerritoryID  string     `json:"territory_id"`
	Kind         string     `json:"kind" enum:"shared_completion,tied_candidates,completed_before_assigned"`
	AssignedTo   string     `json:"assigned_to"`
	AssignedDate *time.Time `json:"assigned_date,omitempty" format:"date-time"`
	Detail       string     `json:"detail"`
}

type S13Data struct {
	PeriodStart        time.Time          `json:"period_start" format:"date-time"`
	PeriodEnd          time.Time          `json:"period_end" format:"date-time"`
	PeriodLabel        string             `json:"period_label,omitempty"`
	GeneratedAt        time.Time          `json:"generated_at" format:"date-time"`
	DetailList         []DetailEntry      `json:"detail_list"`
	SummaryByTerritory []TerritorySummary `json:"summary_by_territory"`
	ByMonth            []MonthGroup       `json:"by_month"`
	Stats              S13Stats           `json:"stats"`
	Ambiguities        []Ambiguity        `json:"ambiguities,omitempty"`
}

type SimpleTerritory struct {
	TerritoryID     string     `json:"territory_id"`
	TerritoryName   string     `json:"territory_name"`
	TerritoryNumber int        `json:"territory_number"`
	CompletedCount  int        `json:"completed_count"`
	AverageDays     *int       `json:"average_days,omitempty"`
	LastCompleted   *time.Time `json:"last_completed,omitempty" format:"date-time"`
}

type SimpleStats struct {
	TotalTerritories int  `json:"total_territories"`
	Worked           int  `json:"worked"`
	NotWorked        int  `json:"not_worked"`
	WorkedPercent    int  `json:"worked_percent"`
	NotWorkedPercent int  `json:"not_worked_percent"`
	AverageDays      *int `json:"average_days,omitempty"`
	TotalCompletions int  `json:"total_completions"`
}

type SimpleSummary struct {
	PeriodStart time.Time         `json:"period_start" format:"date-time"`
	PeriodEnd   time.Time         `json:"period_end" format:"date-time"`
	PeriodLabel string            `json:"period_label,omitempty"`
	GeneratedAt time.Time         `json:"generated_at" format:"date-time"`
	Summary     []SimpleTerritory `json:"summary"`
	Stats       SimpleStats       `json:"stats"`
}

// Event is an entry of the local store's append-only log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// ReportRun records one generated report.
type ReportRun struct {
	ID          string `json:"id"`
	Kind        string `json:"kind" enum:"s13,summary"`
	PeriodStart string `json:"period_start" format:"date-time"`
	PeriodEnd   string `json:"period_end" format:"date-time"`
	PeriodLabel string `json:"period_label,omitempty"`
	StatsJSON   string `json:"stats_json"`
	Ambiguities int    `json:"ambiguities"`
	ActorID     string `json:"actor_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

const (
	ReportKindS13     = "s13"
	ReportKindSummary = "summary"
)

// APIKey grants API access to an actor. Only the hash of the key is stored.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ImportResult summarizes one load of an export into the local store.
type ImportResult struct {
	BatchID          string `json:"batch_id"`
	Territories      int    `json:"territories"`
	HistoryRead      int    `json:"history_read"`
	HistoryInserted  int    `json:"history_inserted"`
	HistoryDuplicate int    `json:"history_duplicate"`
	HistorySkipped   int    `json:"history_skipped"`
}
