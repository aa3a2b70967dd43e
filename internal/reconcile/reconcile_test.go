package reconcile_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"s13report/internal/domain"
	"s13report/internal/reconcile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2024, time.October, 15, 12, 0, 0, 0, time.UTC)

func newEngine() reconcile.Engine {
	e := reconcile.New()
	e.Now = func() time.Time { return now }
	return e
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func assigned(territory string, who any, at *time.Time) domain.HistoryEvent {
	return domain.HistoryEvent{TerritoryID: territory, Status: domain.StatusAssigned, AssignedTo: names(who), AssignedDate: at}
}

func completed(territory string, who any, at, done *time.Time) domain.HistoryEvent {
	return domain.HistoryEvent{TerritoryID: territory, Status: domain.StatusCompleted, AssignedTo: names(who), AssignedDate: at, CompletedDate: done}
}

func names(who any) []string {
	switch v := who.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

func TestMatchedPairCollapses(t *testing.T) {
	res := newEngine().Territory("T1", []domain.HistoryEvent{
		assigned("T1", "Ana", day(2024, 9, 10)),
		completed("T1", "Ana", day(2024, 9, 10), day(2024, 9, 20)),
	})
	require.Len(t, res.Lifecycles, 1)
	lc := res.Lifecycles[0]
	assert.Equal(t, "Ana", lc.AssignedTo)
	assert.True(t, lc.AssignedDate.Equal(*day(2024, 9, 10)))
	require.NotNil(t, lc.CompletedDate)
	assert.True(t, lc.CompletedDate.Equal(*day(2024, 9, 20)))
	assert.Equal(t, 10, lc.Days)
	assert.Equal(t, domain.LifecycleCompleted, lc.Status)
	assert.Equal(t, "septiembre 2024", lc.Month)
	assert.Equal(t, 8, lc.MonthIndex)
	assert.Empty(t, res.Ambiguities)
}

func TestUnmatchedAssignmentStaysOpen(t *testing.T) {
	res := newEngine().Territory("T1", []domain.HistoryEvent{
		assigned("T1", "Ana", day(2024, 9, 10)),
	})
	require.Len(t, res.Lifecycles, 1)
	lc := res.Lifecycles[0]
	assert.Nil(t, lc.CompletedDate)
	assert.Equal(t, domain.LifecycleInProgress, lc.Status)
	// Sep 10 00:00 to Oct 15 12:00 is 35.5 days
	assert.Equal(t, 36, lc.Days)
}

func TestFallbackMatchesSameAssigneeAfterAssignment(t *testing.T) {
	res := newEngine().Territory("T1", []domain.HistoryEvent{
		assigned("T1", []string{"Ana", "Luis"}, day(2024, 9, 1)),
		// completion logged without the assignment date
		completed("T1", []string{"Ana", "Luis"}, nil, day(2024, 9, 25)),
		// different assignee, never a match
		completed("T1", "Eva", nil, day(2024, 9, 5)),
	})
	require.Len(t, res.Lifecycles, 1)
	assert.Equal(t, "Ana y Luis", res.Lifecycles[0].AssignedTo)
	assert.True(t, res.Lifecycles[0].CompletedDate.Equal(*day(2024, 9, 25)))
	assert.Equal(t, 24, res.Lifecycles[0].Days)
}

func TestProximityPreferredOverAssignee(t *testing.T) {
	res := newEngine().Territory("T1", []domain.HistoryEvent{
		assigned("T1", "Ana", day(2024, 9, 1)),
		completed("T1", "Ana", nil, day(2024, 9, 3)),
		completed("T1", "Ana", day(2024, 9, 1), day(2024, 9, 30)),
	})
	require.Len(t, res.Lifecycles, 1)
	assert.True(t, res.Lifecycles[0].CompletedDate.Equal(*day(2024, 9, 30)))
}

func TestOrphanCompletionIsSynthesized(t *testing.T) {
	res := newEngine().Territory("T1", []domain.HistoryEvent{
		assigned("T1", "Ana", day(2024, 10, 1)),
		completed("T1", "Luis", day(2024, 9, 2), day(2024, 9, 12)),
	})
	require.Len(t, res.Lifecycles, 2)
	first := res.Lifecycles[0]
	assert.Equal(t, "Luis", first.AssignedTo)
	assert.Equal(t, 10, first.Days)
	assert.Equal(t, domain.LifecycleCompleted, first.Status)
	second := res.Lifecycles[1]
	assert.Equal(t, "Ana", second.AssignedTo)
	assert.Equal(t, domain.LifecycleInProgress, second.Status)
}

func TestDuplicateAssignmentsDeduplicated(t *testing.T) {
	res := newEngine().Territory("T1", []domain.HistoryEvent{
		assigned("T1", "Ana", day(2024, 9, 10)),
		assigned("T1", "Ana", day(2024, 9, 10)),
		completed("T1", "Ana", day(2024, 9, 10), day(2024, 9, 20)),
	})
	require.Len(t, res.Lifecycles, 1)
	kinds := map[string]int{}
	for _, a := range res.Ambiguities {
		kinds[a.Kind]++
	}
	assert.Equal(t, 2, kinds[reconcile.AmbiguitySharedCompletion])
}

func TestCompletedBeforeAssignedKeepsPositiveDays(t *testing.T) {
	// a completion 10 hours before the assignment still pairs by proximity
	assignedAt := time.Date(2024, 9, 10, 12, 0, 0, 0, time.UTC)
	doneAt := time.Date(2024, 9, 8, 12, 0, 0, 0, time.UTC)
	proximity := assignedAt.Add(-10 * time.Hour)
	res := newEngine().Territory("T1", []domain.HistoryEvent{
		assigned("T1", "Ana", &assignedAt),
		completed("T1", "Ana", &proximity, &doneAt),
	})
	require.NotEmpty(t, res.Lifecycles)
	for _, lc := range res.Lifecycles {
		assert.GreaterOrEqual(t, lc.Days, 0)
	}
	found := false
	for _, a := range res.Ambiguities {
		if a.Kind == reconcile.AmbiguityCompletedBeforeAssigned {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTiedCandidatesReported(t *testing.T) {
	res := newEngine().Territory("T1", []domain.HistoryEvent{
		assigned("T1", "Ana", day(2024, 9, 10)),
		completed("T1", "Ana", day(2024, 9, 10), day(2024, 9, 15)),
		completed("T1", "Ana", day(2024, 9, 10), day(2024, 9, 20)),
	})
	require.Len(t, res.Lifecycles, 1)
	// the first logged completion wins the tie
	assert.True(t, res.Lifecycles[0].CompletedDate.Equal(*day(2024, 9, 15)))
	require.NotEmpty(t, res.Ambiguities)
	assert.Equal(t, reconcile.AmbiguityTiedCandidates, res.Ambiguities[0].Kind)
}

func TestOtherTerritoriesIgnored(t *testing.T) {
	res := newEngine().Territory("T1", []domain.HistoryEvent{
		assigned("T2", "Ana", day(2024, 9, 10)),
		completed("T2", "Ana", day(2024, 9, 10), day(2024, 9, 20)),
	})
	assert.Empty(t, res.Lifecycles)
	assert.Equal(t, 0, res.Assignments)
}

func TestInputsNotMutated(t *testing.T) {
	events := []domain.HistoryEvent{
		assigned("T1", "Ana", day(2024, 9, 10)),
		completed("T1", "Ana", day(2024, 9, 10), day(2024, 9, 20)),
	}
	before := cloneEvents(events)
	newEngine().Territory("T1", events)
	if diff := cmp.Diff(before, events); diff != "" {
		t.Fatalf("input mutated (-want +got):\n%s", diff)
	}
}

func cloneEvents(in []domain.HistoryEvent) []domain.HistoryEvent {
	out := make([]domain.HistoryEvent, len(in))
	for i, e := range in {
		out[i] = e
		out[i].AssignedTo = append([]string{}, e.AssignedTo...)
		if e.AssignedDate != nil {
			d := *e.AssignedDate
			out[i].AssignedDate = &d
		}
		if e.CompletedDate != nil {
			d := *e.CompletedDate
			out[i].CompletedDate = &d
		}
	}
	return out
}

func randomHistory(rng *rand.Rand, n int) []domain.HistoryEvent {
	people := []string{"Ana", "Luis", "Eva", "Marta"}
	statuses := []string{domain.StatusAssigned, domain.StatusReassigned, domain.StatusCompleted, domain.StatusAutoCompleted}
	var out []domain.HistoryEvent
	for i := 0; i < n; i++ {
		evt := domain.HistoryEvent{
			TerritoryID: []string{"T1", "T2", "T3"}[rng.Intn(3)],
			Status:      statuses[rng.Intn(len(statuses))],
			AssignedTo:  []string{people[rng.Intn(len(people))]},
		}
		a := time.Date(2024, time.Month(1+rng.Intn(9)), 1+rng.Intn(28), rng.Intn(24), 0, 0, 0, time.UTC)
		evt.AssignedDate = &a
		if rng.Intn(2) == 0 {
			c := a.AddDate(0, 0, rng.Intn(60)-5)
			evt.CompletedDate = &c
		}
		out = append(out, evt)
	}
	return out
}

func TestReconciliationProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := newEngine()
	for round := 0; round < 50; round++ {
		events := randomHistory(rng, 40)
		first := e.All(events, []string{"T1", "T2", "T3"})
		second := e.All(events, []string{"T1", "T2", "T3"})
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("round %d not idempotent:\n%s", round, diff)
		}
		for _, res := range first {
			keys := map[string]bool{}
			for _, lc := range res.Lifecycles {
				require.GreaterOrEqual(t, lc.Days, 0)
				keys[lc.AssignedTo+lc.AssignedDate.String()] = true
				if lc.CompletedDate == nil {
					require.Equal(t, domain.LifecycleInProgress, lc.Status)
				} else {
					require.Equal(t, domain.LifecycleCompleted, lc.Status)
				}
			}
			// every assignment is represented, matched or not
			for _, evt := range events {
				if evt.TerritoryID != res.TerritoryID || (evt.Status != domain.StatusAssigned && evt.Status != domain.StatusReassigned) {
					continue
				}
				require.True(t, keys[evt.AssignedTo[0]+evt.AssignedDate.String()], "assignment dropped: %+v", evt)
			}
			for i := 1; i < len(res.Lifecycles); i++ {
				require.False(t, res.Lifecycles[i].AssignedDate.Before(*res.Lifecycles[i-1].AssignedDate))
			}
		}
	}
}
