package report

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"s13report/internal/domain"
	"s13report/internal/history"
	"s13report/internal/period"
	"s13report/internal/reconcile"
)

// DefaultMaxSlots is the number of assignment columns on the paper S-13 form.
const DefaultMaxSlots = 4

var ErrNoTerritories = errors.New("territory list is required")

type Generator struct {
	Reconciler reconcile.Engine
	MaxSlots   int
	Now        func() time.Time
	// Location is the zone month groups and printed dates are read in; nil keeps the
	// zone each date arrived with.
	Location *time.Location
	Logger   *zap.Logger
}

func New(logger *zap.Logger) Generator {
	return Generator{
		Reconciler: reconcile.New(),
		MaxSlots:   DefaultMaxSlots,
		Now:        time.Now,
		Logger:     logger,
	}
}

func (g Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Generator) logger() *zap.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return zap.NewNop()
}

func (g Generator) slots() int {
	if g.MaxSlots > 0 {
		return g.MaxSlots
	}
	return DefaultMaxSlots
}

// localize moves every event date into the report zone, so an instant lands in the same
// month whichever source it came from.
func (g Generator) localize(events []domain.HistoryEvent) []domain.HistoryEvent {
	if g.Location == nil {
		return events
	}
	out := make([]domain.HistoryEvent, len(events))
	for i, evt := range events {
		evt.AssignedDate = period.In(evt.AssignedDate, g.Location)
		evt.CompletedDate = period.In(evt.CompletedDate, g.Location)
		out[i] = evt
	}
	return out
}

func (g Generator) reconciler() reconcile.Engine {
	e := g.Reconciler
	e.Now = g.now
	return e
}

var designator = regexp.MustCompile(`\d+`)

// TerritoryNumber extracts the first number embedded in a territory name ("Territorio 12"
// gives 12). Names without digits give 0.
func TerritoryNumber(name string) int {
	m := designator.FindString(name)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// SortTerritories orders a copy of territories by their numeric designator.
func SortTerritories(territories []domain.Territory) []domain.Territory {
	out := append([]domain.Territory{}, territories...)
	sort.SliceStable(out, func(i, j int) bool {
		return TerritoryNumber(out[i].Name) < TerritoryNumber(out[j].Name)
	})
	return out
}

// FilterHistoryByDateRange keeps the events assigned within [start, end]. Events without a
// usable assigned date are dropped.
func FilterHistoryByDateRange(events []domain.HistoryEvent, start, end time.Time) []domain.HistoryEvent {
	out := make([]domain.HistoryEvent, 0, len(events))
	for _, evt := range events {
		if !period.Valid(evt.AssignedDate) {
			continue
		}
		if evt.AssignedDate.Before(start) || evt.AssignedDate.After(end) {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// LastCompletedBefore searches the whole history, not just the report window, for the
// latest completion of territoryID strictly before start.
func LastCompletedBefore(events []domain.HistoryEvent, territoryID string, start time.Time) *time.Time {
	var last *time.Time
	for _, evt := range events {
		if evt.TerritoryID != territoryID || !history.IsCompletion(evt.Status) || !period.Valid(evt.CompletedDate) {
			continue
		}
		if !evt.CompletedDate.Before(start) {
			continue
		}
		if last == nil || evt.CompletedDate.After(*last) {
			d := *evt.CompletedDate
			last = &d
		}
	}
	return last
}

func assignedOrEpoch(t *time.Time) time.Time {
	if t == nil {
		return time.Unix(0, 0)
	}
	return *t
}

// S13 builds the full S-13 report for the window rng.
func (g Generator) S13(events []domain.HistoryEvent, territories []domain.Territory, rng period.Range) (domain.S13Data, error) {
	if territories == nil {
		return domain.S13Data{}, ErrNoTerritories
	}
	events = g.localize(events)
	sorted := SortTerritories(territories)
	ids := make([]string, len(sorted))
	for i, t := range sorted {
		ids[i] = t.ID
	}
	filtered := FilterHistoryByDateRange(events, rng.Start, rng.End)
	results := g.reconciler().All(filtered, ids)

	data := domain.S13Data{
		PeriodStart:        rng.Start,
		PeriodEnd:          rng.End,
		PeriodLabel:        rng.Label,
		GeneratedAt:        g.now(),
		DetailList:         []domain.DetailEntry{},
		SummaryByTerritory: make([]domain.TerritorySummary, 0, len(sorted)),
		ByMonth:            []domain.MonthGroup{},
	}
	maxSlots := g.slots()
	for i, t := range sorted {
		res := results[i]
		number := TerritoryNumber(t.Name)
		summary := domain.TerritorySummary{
			TerritoryID:         t.ID,
			TerritoryName:       t.Name,
			TerritoryNumber:     number,
			Assignments:         []domain.Lifecycle{},
			TotalAssignments:    len(res.Lifecycles),
			LastCompletedBefore: LastCompletedBefore(events, t.ID, rng.Start),
		}
		for j, lc := range res.Lifecycles {
			if j < maxSlots {
				summary.Assignments = append(summary.Assignments, lc)
			}
			if lc.CompletedDate != nil {
				summary.CompletedCount++
				data.Stats.CompletedAssignments++
				if summary.LastCompletedInPeriod == nil || lc.CompletedDate.After(*summary.LastCompletedInPeriod) {
					d := *lc.CompletedDate
					summary.LastCompletedInPeriod = &d
				}
			} else {
				data.Stats.InProgressAssignments++
			}
			data.DetailList = append(data.DetailList, domain.DetailEntry{
				Lifecycle:       lc,
				TerritoryName:   t.Name,
				TerritoryNumber: number,
			})
		}
		if len(res.Lifecycles) > 0 {
			data.Stats.TerritoriesWithActivity++
		}
		if len(res.Lifecycles) > maxSlots {
			g.logger().Debug("territory has more assignments than S-13 slots",
				zap.String("territory", t.Name), zap.Int("assignments", len(res.Lifecycles)), zap.Int("slots", maxSlots))
		}
		for _, a := range res.Ambiguities {
			g.logger().Warn("ambiguous history pairing",
				zap.String("territory", t.Name), zap.String("kind", a.Kind),
				zap.String("assigned_to", a.AssignedTo), zap.String("detail", a.Detail))
		}
		data.Ambiguities = append(data.Ambiguities, res.Ambiguities...)
		data.SummaryByTerritory = append(data.SummaryByTerritory, summary)
	}

	sort.SliceStable(data.DetailList, func(i, j int) bool {
		return assignedOrEpoch(data.DetailList[i].AssignedDate).Before(assignedOrEpoch(data.DetailList[j].AssignedDate))
	})
	for _, grp := range period.GroupByMonth(data.DetailList, func(d domain.DetailEntry) *time.Time { return d.AssignedDate }) {
		data.ByMonth = append(data.ByMonth, domain.MonthGroup{
			Year:    grp.Year,
			Month:   int(grp.Month),
			Label:   grp.Label,
			Entries: grp.Items,
		})
	}
	data.Stats.TotalTerritories = len(sorted)
	data.Stats.TotalAssignments = len(data.DetailList)
	g.logger().Info("s13 report generated",
		zap.Time("start", rng.Start), zap.Time("end", rng.End),
		zap.Int("territories", data.Stats.TotalTerritories),
		zap.Int("assignments", data.Stats.TotalAssignments),
		zap.Int("ambiguities", len(data.Ambiguities)))
	return data, nil
}

// Simple builds the coverage summary: completions per territory whose completion date
// falls in rng, with average days to complete.
func (g Generator) Simple(events []domain.HistoryEvent, territories []domain.Territory, rng period.Range) (domain.SimpleSummary, error) {
	if territories == nil {
		return domain.SimpleSummary{}, ErrNoTerritories
	}
	events = g.localize(events)
	sorted := SortTerritories(territories)
	byTerritory := map[string][]domain.HistoryEvent{}
	for _, evt := range events {
		if !history.IsCompletion(evt.Status) || !period.Valid(evt.CompletedDate) || !rng.Contains(*evt.CompletedDate) {
			continue
		}
		byTerritory[evt.TerritoryID] = append(byTerritory[evt.TerritoryID], evt)
	}

	out := domain.SimpleSummary{
		PeriodStart: rng.Start,
		PeriodEnd:   rng.End,
		PeriodLabel: rng.Label,
		GeneratedAt: g.now(),
		Summary:     make([]domain.SimpleTerritory, 0, len(sorted)),
	}
	var averages []int
	for _, t := range sorted {
		entry := domain.SimpleTerritory{
			TerritoryID:     t.ID,
			TerritoryName:   t.Name,
			TerritoryNumber: TerritoryNumber(t.Name),
		}
		var days []int
		for _, evt := range byTerritory[t.ID] {
			entry.CompletedCount++
			if entry.LastCompleted == nil || evt.CompletedDate.After(*entry.LastCompleted) {
				d := *evt.CompletedDate
				entry.LastCompleted = &d
			}
			if period.Valid(evt.AssignedDate) {
				days = append(days, period.DaysBetween(*evt.AssignedDate, *evt.CompletedDate))
			}
		}
		if avg, ok := mean(days); ok {
			entry.AverageDays = &avg
			averages = append(averages, avg)
		}
		if entry.CompletedCount > 0 {
			out.Stats.Worked++
		}
		out.Stats.TotalCompletions += entry.CompletedCount
		out.Summary = append(out.Summary, entry)
	}
	out.Stats.TotalTerritories = len(sorted)
	out.Stats.NotWorked = out.Stats.TotalTerritories - out.Stats.Worked
	out.Stats.WorkedPercent = percent(out.Stats.Worked, out.Stats.TotalTerritories)
	out.Stats.NotWorkedPercent = percent(out.Stats.NotWorked, out.Stats.TotalTerritories)
	if avg, ok := mean(averages); ok {
		out.Stats.AverageDays = &avg
	}
	g.logger().Info("summary report generated",
		zap.Time("start", rng.Start), zap.Time("end", rng.End),
		zap.Int("territories", out.Stats.TotalTerritories),
		zap.Int("worked", out.Stats.Worked))
	return out, nil
}

func mean(values []int) (int, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(len(values)))), true
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}
