// Package reconcile pairs assignment events with the completion events logged for the same
// territory and turns each pair into one lifecycle record.
//
// The history log has no key linking an assignment to its completion. A completion usually
// repeats the assignment's date, so the first rule pairs events whose assigned dates lie
// within the match window. Failing that, a completion of the same assignee dated on or after
// the assignment is taken. Candidates are scored so ties resolve the same way every run.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"s13report/internal/domain"
	"s13report/internal/history"
	"s13report/internal/period"
)

const DefaultMatchWindow = 24 * time.Hour

const (
	AmbiguitySharedCompletion        = "shared_completion"
	AmbiguityTiedCandidates          = "tied_candidates"
	AmbiguityCompletedBeforeAssigned = "completed_before_assigned"
)

const (
	tierSameAssignment = iota
	tierSameAssignee
)

type Engine struct {
	MatchWindow time.Duration
	Now         func() time.Time
}

func New() Engine {
	return Engine{MatchWindow: DefaultMatchWindow, Now: time.Now}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) window() time.Duration {
	if e.MatchWindow > 0 {
		return e.MatchWindow
	}
	return DefaultMatchWindow
}

// Result is the reconciled view of one territory.
type Result struct {
	TerritoryID string
	Lifecycles  []domain.Lifecycle
	Ambiguities []domain.Ambiguity
	Assignments int
	Completions int
}

type candidate struct {
	tier  int
	score time.Duration
	index int
}

func (c candidate) less(o candidate) bool {
	if c.tier != o.tier {
		return c.tier < o.tier
	}
	if c.score != o.score {
		return c.score < o.score
	}
	return c.index < o.index
}

func (c candidate) ties(o candidate) bool {
	return c.tier == o.tier && c.score == o.score
}

var epoch = time.Unix(0, 0)

func dateOrEpoch(t *time.Time) time.Time {
	if period.Valid(t) {
		return *t
	}
	return epoch
}

func validCopy(t *time.Time) *time.Time {
	if !period.Valid(t) {
		return nil
	}
	c := *t
	return &c
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// score rates completion c as the end of assignment a. ok is false when neither rule applies.
func (e Engine) score(a domain.HistoryEvent, aName string, c domain.HistoryEvent, index int) (candidate, bool) {
	if period.Valid(a.AssignedDate) && period.Valid(c.AssignedDate) {
		if diff := abs(c.AssignedDate.Sub(*a.AssignedDate)); diff < e.window() {
			return candidate{tier: tierSameAssignment, score: diff, index: index}, true
		}
	}
	if period.Valid(c.CompletedDate) {
		assigned := dateOrEpoch(a.AssignedDate)
		if !c.CompletedDate.Before(assigned) && history.DisplayName(c.AssignedTo) == aName {
			return candidate{tier: tierSameAssignee, score: c.CompletedDate.Sub(assigned), index: index}, true
		}
	}
	return candidate{}, false
}

// Territory reconciles the events of one territory. Events of other territories are ignored.
func (e Engine) Territory(territoryID string, events []domain.HistoryEvent) Result {
	res := Result{TerritoryID: territoryID}
	var assignments, completions []domain.HistoryEvent
	for _, evt := range events {
		if evt.TerritoryID != territoryID {
			continue
		}
		switch {
		case history.IsAssignment(evt.Status):
			assignments = append(assignments, evt)
		case history.IsCompletion(evt.Status):
			completions = append(completions, evt)
		}
	}
	res.Assignments = len(assignments)
	res.Completions = len(completions)

	lifecycles := make([]domain.Lifecycle, 0, len(assignments)+len(completions))
	claimedBy := map[int][]int{}
	for ai, a := range assignments {
		name := history.DisplayName(a.AssignedTo)
		best := candidate{index: -1}
		tied := false
		for ci, c := range completions {
			cand, ok := e.score(a, name, c, ci)
			if !ok {
				continue
			}
			switch {
			case best.index < 0 || cand.less(best):
				tied = best.index >= 0 && cand.ties(best)
				best = cand
			case cand.ties(best):
				tied = true
			}
		}
		lc := domain.Lifecycle{
			TerritoryID:  territoryID,
			AssignedTo:   name,
			AssignedDate: validCopy(a.AssignedDate),
		}
		if best.index >= 0 {
			lc.CompletedDate = validCopy(completions[best.index].CompletedDate)
			claimedBy[best.index] = append(claimedBy[best.index], ai)
			if tied {
				res.Ambiguities = append(res.Ambiguities, domain.Ambiguity{
					TerritoryID:  territoryID,
					Kind:         AmbiguityTiedCandidates,
					AssignedTo:   name,
					AssignedDate: lc.AssignedDate,
					Detail:       "several completions scored equally; the first logged one was used",
				})
			}
		}
		lifecycles = append(lifecycles, lc)
	}

	for ci := range completions {
		owners := claimedBy[ci]
		if len(owners) < 2 {
			continue
		}
		for _, ai := range owners {
			a := assignments[ai]
			res.Ambiguities = append(res.Ambiguities, domain.Ambiguity{
				TerritoryID:  territoryID,
				Kind:         AmbiguitySharedCompletion,
				AssignedTo:   history.DisplayName(a.AssignedTo),
				AssignedDate: validCopy(a.AssignedDate),
				Detail:       fmt.Sprintf("completion shared by %d assignments", len(owners)),
			})
		}
	}

	// Completions whose assignment was never logged.
	for _, c := range completions {
		if !period.Valid(c.AssignedDate) {
			continue
		}
		name := history.DisplayName(c.AssignedTo)
		if e.hasLifecycleNear(lifecycles, name, *c.AssignedDate) {
			continue
		}
		lifecycles = append(lifecycles, domain.Lifecycle{
			TerritoryID:   territoryID,
			AssignedTo:    name,
			AssignedDate:  validCopy(c.AssignedDate),
			CompletedDate: validCopy(c.CompletedDate),
		})
	}

	lifecycles = dedupe(lifecycles)
	sort.SliceStable(lifecycles, func(i, j int) bool {
		return dateOrEpoch(lifecycles[i].AssignedDate).Before(dateOrEpoch(lifecycles[j].AssignedDate))
	})

	now := e.now()
	for i := range lifecycles {
		finish(&lifecycles[i], now)
		lc := lifecycles[i]
		if lc.AssignedDate != nil && lc.CompletedDate != nil && lc.CompletedDate.Before(*lc.AssignedDate) {
			res.Ambiguities = append(res.Ambiguities, domain.Ambiguity{
				TerritoryID:  territoryID,
				Kind:         AmbiguityCompletedBeforeAssigned,
				AssignedTo:   lc.AssignedTo,
				AssignedDate: lc.AssignedDate,
				Detail:       fmt.Sprintf("completed %s before assignment", period.FormatDate(lc.CompletedDate)),
			})
		}
	}
	res.Lifecycles = lifecycles
	return res
}

func (e Engine) hasLifecycleNear(lifecycles []domain.Lifecycle, name string, assigned time.Time) bool {
	for _, lc := range lifecycles {
		if lc.AssignedDate == nil || lc.AssignedTo != name {
			continue
		}
		if abs(lc.AssignedDate.Sub(assigned)) < e.window() {
			return true
		}
	}
	return false
}

func dedupe(lifecycles []domain.Lifecycle) []domain.Lifecycle {
	seen := make(map[string]struct{}, len(lifecycles))
	out := lifecycles[:0]
	for _, lc := range lifecycles {
		key := lc.AssignedTo + "|"
		if lc.AssignedDate != nil {
			key += fmt.Sprintf("%d", lc.AssignedDate.UnixMilli())
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, lc)
	}
	return out
}

// finish fills the derived fields. Day counts are absolute so a completion logged before
// its assignment never yields a negative span.
func finish(lc *domain.Lifecycle, now time.Time) {
	switch {
	case lc.CompletedDate != nil:
		lc.Status = domain.LifecycleCompleted
		if lc.AssignedDate != nil {
			lc.Days = period.DaysBetween(*lc.AssignedDate, *lc.CompletedDate)
		}
	default:
		lc.Status = domain.LifecycleInProgress
		if lc.AssignedDate != nil {
			lc.Days = period.DaysBetween(*lc.AssignedDate, now)
		}
	}
	if lc.AssignedDate != nil {
		lc.Year = lc.AssignedDate.Year()
		lc.MonthIndex = int(lc.AssignedDate.Month()) - 1
		lc.Month = period.MonthLabel(lc.AssignedDate.Year(), lc.AssignedDate.Month())
	}
}

// All reconciles every listed territory, in the order given.
func (e Engine) All(events []domain.HistoryEvent, territoryIDs []string) []Result {
	byTerritory := make(map[string][]domain.HistoryEvent, len(territoryIDs))
	for _, evt := range events {
		byTerritory[evt.TerritoryID] = append(byTerritory[evt.TerritoryID], evt)
	}
	results := make([]Result, 0, len(territoryIDs))
	for _, id := range territoryIDs {
		results = append(results, e.Territory(id, byTerritory[id]))
	}
	return results
}
