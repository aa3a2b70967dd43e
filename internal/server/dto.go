package server

import (
	"encoding/json"

	"s13report/internal/domain"
	"s13report/internal/period"
)

// Request inputs

// PeriodQuery selects the report window. With no fields set the current service year
// is used.
type PeriodQuery struct {
	Kind        string `query:"kind" doc:"service_year, semester or custom; inferred when empty"`
	ServiceYear int    `query:"service_year" doc:"service year, named by the year it ends in"`
	Semester    int    `query:"semester" doc:"1 for September-February, 2 for March-August"`
	StartMonth  int    `query:"start_month"`
	StartYear   int    `query:"start_year"`
	EndMonth    int    `query:"end_month"`
	EndYear     int    `query:"end_year"`
}

func (q PeriodQuery) selection() period.Selection {
	return period.Selection{
		Kind:        q.Kind,
		ServiceYear: q.ServiceYear,
		Semester:    q.Semester,
		StartMonth:  q.StartMonth,
		StartYear:   q.StartYear,
		EndMonth:    q.EndMonth,
		EndYear:     q.EndYear,
	}
}

// Responses

type S13Response struct {
	RunID string `json:"run_id"`
	domain.S13Data
}

type SummaryResponse struct {
	RunID string `json:"run_id"`
	domain.SimpleSummary
}

type ServiceYearResponse struct {
	Year  int    `json:"year"`
	Label string `json:"label"`
}

type ReportRunResponse struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind" enum:"s13,summary"`
	PeriodStart string         `json:"period_start" format:"date-time"`
	PeriodEnd   string         `json:"period_end" format:"date-time"`
	PeriodLabel string         `json:"period_label,omitempty"`
	Stats       map[string]any `json:"stats"`
	Ambiguities int            `json:"ambiguities"`
	ActorID     string         `json:"actor_id"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type PrincipalResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source" enum:"jwt,api_key,anonymous"`
}

type paginatedRuns struct {
	Items []ReportRunResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func reportRunResponse(run domain.ReportRun) ReportRunResponse {
	return ReportRunResponse{
		ID:          run.ID,
		Kind:        run.Kind,
		PeriodStart: run.PeriodStart,
		PeriodEnd:   run.PeriodEnd,
		PeriodLabel: run.PeriodLabel,
		Stats:       nonNilMap(decodeJSONMap(run.StatsJSON)),
		Ambiguities: run.Ambiguities,
		ActorID:     run.ActorID,
		CreatedAt:   run.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    nonNilMap(decodeJSONMap(e.Payload)),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}
