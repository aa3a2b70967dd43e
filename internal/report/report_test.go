package report_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"s13report/internal/domain"
	"s13report/internal/period"
	"s13report/internal/report"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC)

func newGenerator() report.Generator {
	g := report.New(nil)
	g.Now = func() time.Time { return now }
	return g
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func evt(territory, status, who string, assigned, completed *time.Time) domain.HistoryEvent {
	return domain.HistoryEvent{TerritoryID: territory, Status: status, AssignedTo: []string{who}, AssignedDate: assigned, CompletedDate: completed}
}

var territories = []domain.Territory{
	{ID: "t12", Name: "Territorio 12"},
	{ID: "t2", Name: "Territorio 2"},
	{ID: "t7", Name: "Territorio 7"},
}

func fixtureHistory() []domain.HistoryEvent {
	return []domain.HistoryEvent{
		// before the window: seeds "last completed before"
		evt("t2", domain.StatusCompleted, "Eva", day(2024, 6, 1), day(2024, 7, 1)),
		evt("t2", domain.StatusCompleted, "Eva", day(2024, 3, 1), day(2024, 4, 1)),
		// in window
		evt("t2", domain.StatusAssigned, "Ana", day(2024, 9, 10), nil),
		evt("t2", domain.StatusCompleted, "Ana", day(2024, 9, 10), day(2024, 9, 20)),
		evt("t2", domain.StatusReassigned, "Luis", day(2024, 10, 1), nil),
		evt("t12", domain.StatusAssigned, "Marta", day(2024, 11, 5), nil),
		// no assigned date: excluded from the window
		evt("t12", domain.StatusAssigned, "Nadie", nil, nil),
	}
}

func TestS13Scenario(t *testing.T) {
	rng := period.ServiceYearRange(2025, time.UTC)
	data, err := newGenerator().S13(fixtureHistory(), territories, rng)
	require.NoError(t, err)

	require.Len(t, data.SummaryByTerritory, len(territories))
	assert.Equal(t, []string{"t2", "t7", "t12"}, []string{
		data.SummaryByTerritory[0].TerritoryID,
		data.SummaryByTerritory[1].TerritoryID,
		data.SummaryByTerritory[2].TerritoryID,
	})

	t2 := data.SummaryByTerritory[0]
	assert.Equal(t, 2, t2.TotalAssignments)
	assert.Equal(t, 1, t2.CompletedCount)
	require.NotNil(t, t2.LastCompletedBefore)
	assert.True(t, t2.LastCompletedBefore.Equal(*day(2024, 7, 1)))
	require.NotNil(t, t2.LastCompletedInPeriod)
	assert.True(t, t2.LastCompletedInPeriod.Equal(*day(2024, 9, 20)))

	t7 := data.SummaryByTerritory[1]
	assert.Equal(t, 0, t7.TotalAssignments)
	assert.Nil(t, t7.LastCompletedBefore)
	assert.Nil(t, t7.LastCompletedInPeriod)
	assert.Empty(t, t7.Assignments)

	assert.Equal(t, domain.S13Stats{
		TotalTerritories:        3,
		TerritoriesWithActivity: 2,
		TotalAssignments:        3,
		CompletedAssignments:    1,
		InProgressAssignments:   2,
	}, data.Stats)

	require.Len(t, data.DetailList, 3)
	assert.Equal(t, "Ana", data.DetailList[0].AssignedTo)
	assert.Equal(t, "Luis", data.DetailList[1].AssignedTo)
	assert.Equal(t, "Marta", data.DetailList[2].AssignedTo)
	assert.Equal(t, 12, data.DetailList[2].TerritoryNumber)

	require.Len(t, data.ByMonth, 3)
	assert.Equal(t, "septiembre 2024", data.ByMonth[0].Label)
	assert.Equal(t, "noviembre 2024", data.ByMonth[2].Label)
}

func TestS13SlotCap(t *testing.T) {
	var events []domain.HistoryEvent
	for i := 0; i < 6; i++ {
		events = append(events, evt("t7", domain.StatusAssigned, "Ana", day(2024, time.Month(9+i%4), 1+i), nil))
	}
	data, err := newGenerator().S13(events, territories, period.ServiceYearRange(2025, time.UTC))
	require.NoError(t, err)
	t7 := data.SummaryByTerritory[1]
	assert.Equal(t, 6, t7.TotalAssignments)
	assert.Len(t, t7.Assignments, report.DefaultMaxSlots)
	assert.Len(t, data.DetailList, 6)

	g := newGenerator()
	g.MaxSlots = 2
	data, err = g.S13(events, territories, period.ServiceYearRange(2025, time.UTC))
	require.NoError(t, err)
	assert.Len(t, data.SummaryByTerritory[1].Assignments, 2)
}

func TestS13RequiresTerritories(t *testing.T) {
	_, err := newGenerator().S13(fixtureHistory(), nil, period.ServiceYearRange(2025, time.UTC))
	require.ErrorIs(t, err, report.ErrNoTerritories)
	_, err = newGenerator().Simple(fixtureHistory(), nil, period.ServiceYearRange(2025, time.UTC))
	require.ErrorIs(t, err, report.ErrNoTerritories)

	data, err := newGenerator().S13(fixtureHistory(), []domain.Territory{}, period.ServiceYearRange(2025, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, data.SummaryByTerritory)
}

func TestS13Idempotent(t *testing.T) {
	g := newGenerator()
	rng := period.ServiceYearRange(2025, time.UTC)
	a, err := g.S13(fixtureHistory(), territories, rng)
	require.NoError(t, err)
	b, err := g.S13(fixtureHistory(), territories, rng)
	require.NoError(t, err)
	if diff := cmp.Diff(a.DetailList, b.DetailList); diff != "" {
		t.Fatalf("detail list differs:\n%s", diff)
	}
}

func TestGeneratorReadsDatesInLocation(t *testing.T) {
	cst := time.FixedZone("CST", -6*3600)
	assigned := time.Date(2024, time.October, 1, 5, 0, 0, 0, time.UTC)
	completed := time.Date(2024, time.October, 31, 23, 0, 0, 0, time.UTC).Add(6 * time.Hour)
	history := []domain.HistoryEvent{evt("t2", domain.StatusCompleted, "Ana", &assigned, &completed)}
	rng := period.ServiceYearRange(2025, cst)

	g := newGenerator()
	g.Location = cst
	data, err := g.S13(history, territories, rng)
	require.NoError(t, err)
	require.Len(t, data.ByMonth, 1)
	assert.Equal(t, "septiembre 2024", data.ByMonth[0].Label)
	require.Len(t, data.DetailList, 1)
	assert.Equal(t, "30/09/2024", period.FormatDate(data.DetailList[0].AssignedDate))
	assert.Equal(t, "31/10/2024", period.FormatDate(data.DetailList[0].CompletedDate))
	// caller's events are left as they were
	assert.Equal(t, time.UTC, history[0].AssignedDate.Location())

	utc, err := newGenerator().S13(history, territories, period.ServiceYearRange(2025, time.UTC))
	require.NoError(t, err)
	require.Len(t, utc.ByMonth, 1)
	assert.Equal(t, "octubre 2024", utc.ByMonth[0].Label)
}

func TestFilterHistoryByDateRange(t *testing.T) {
	start := *day(2024, 9, 1)
	end := time.Date(2024, 9, 30, 23, 59, 59, 0, time.UTC)
	invalid := time.Time{}
	events := []domain.HistoryEvent{
		evt("a", domain.StatusAssigned, "x", &start, nil),
		evt("b", domain.StatusAssigned, "x", &end, nil),
		evt("c", domain.StatusAssigned, "x", day(2024, 10, 1), nil),
		evt("d", domain.StatusAssigned, "x", nil, nil),
		evt("e", domain.StatusAssigned, "x", &invalid, nil),
	}
	got := report.FilterHistoryByDateRange(events, start, end)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].TerritoryID)
	assert.Equal(t, "b", got[1].TerritoryID)
}

func TestLastCompletedBefore(t *testing.T) {
	start := *day(2024, 9, 1)
	events := []domain.HistoryEvent{
		evt("t1", domain.StatusCompleted, "x", nil, day(2024, 5, 1)),
		evt("t1", domain.StatusAutoCompleted, "x", nil, day(2024, 8, 1)),
		evt("t1", domain.StatusAssigned, "x", nil, day(2024, 8, 20)),
		evt("t1", domain.StatusCompleted, "x", nil, &start),
		evt("t2", domain.StatusCompleted, "x", nil, day(2024, 8, 25)),
	}
	got := report.LastCompletedBefore(events, "t1", start)
	require.NotNil(t, got)
	assert.True(t, got.Equal(*day(2024, 8, 1)))
	assert.Nil(t, report.LastCompletedBefore(events, "t9", start))
}

func TestTerritoryNumber(t *testing.T) {
	assert.Equal(t, 12, report.TerritoryNumber("Territorio 12"))
	assert.Equal(t, 3, report.TerritoryNumber("T-3 Norte 7"))
	assert.Equal(t, 0, report.TerritoryNumber("Centro"))
}

func TestSimpleSummary(t *testing.T) {
	rng := period.ServiceYearRange(2025, time.UTC)
	events := []domain.HistoryEvent{
		evt("t2", domain.StatusCompleted, "Ana", day(2024, 9, 1), day(2024, 9, 11)),
		evt("t2", domain.StatusAutoCompleted, "Luis", day(2024, 10, 1), day(2024, 10, 21)),
		evt("t2", domain.StatusCompleted, "Eva", nil, day(2024, 11, 2)),
		evt("t12", domain.StatusCompleted, "Marta", day(2024, 9, 1), day(2024, 9, 6)),
		// outside window and wrong status are ignored
		evt("t12", domain.StatusCompleted, "Marta", day(2024, 1, 1), day(2024, 2, 1)),
		evt("t7", domain.StatusAssigned, "Marta", day(2024, 9, 1), day(2024, 9, 2)),
	}
	sum, err := newGenerator().Simple(events, territories, rng)
	require.NoError(t, err)
	require.Len(t, sum.Summary, 3)

	t2 := sum.Summary[0]
	assert.Equal(t, 3, t2.CompletedCount)
	require.NotNil(t, t2.AverageDays)
	assert.Equal(t, 15, *t2.AverageDays)
	assert.True(t, t2.LastCompleted.Equal(*day(2024, 11, 2)))

	t7 := sum.Summary[1]
	assert.Equal(t, 0, t7.CompletedCount)
	assert.Nil(t, t7.AverageDays)
	assert.Nil(t, t7.LastCompleted)

	t12 := sum.Summary[2]
	assert.Equal(t, 1, t12.CompletedCount)
	assert.Equal(t, 5, *t12.AverageDays)

	assert.Equal(t, 3, sum.Stats.TotalTerritories)
	assert.Equal(t, 2, sum.Stats.Worked)
	assert.Equal(t, 1, sum.Stats.NotWorked)
	assert.Equal(t, 67, sum.Stats.WorkedPercent)
	assert.Equal(t, 33, sum.Stats.NotWorkedPercent)
	require.NotNil(t, sum.Stats.AverageDays)
	assert.Equal(t, 10, *sum.Stats.AverageDays)
	assert.Equal(t, 4, sum.Stats.TotalCompletions)
}

func TestSimpleSummaryNoActivity(t *testing.T) {
	sum, err := newGenerator().Simple(nil, territories, period.ServiceYearRange(2025, time.UTC))
	require.NoError(t, err)
	assert.Len(t, sum.Summary, 3)
	assert.Equal(t, 0, sum.Stats.WorkedPercent)
	assert.Equal(t, 100, sum.Stats.NotWorkedPercent)
	assert.Nil(t, sum.Stats.AverageDays)
}

func TestS13RowsMapping(t *testing.T) {
	data, err := newGenerator().S13(fixtureHistory(), territories, period.ServiceYearRange(2025, time.UTC))
	require.NoError(t, err)
	rows := report.S13Rows(data, report.DefaultMaxSlots)
	require.Len(t, rows, 3)

	first := rows[0]
	assert.Equal(t, "2", first.Number)
	assert.Equal(t, "01/07/2024", first.LastCompletedBefore)
	require.Len(t, first.Slots, 4)
	assert.Equal(t, report.S13Slot{AssignedTo: "Ana", Assigned: "10/09/2024", Completed: "20/09/2024"}, first.Slots[0])
	assert.Equal(t, report.S13Slot{AssignedTo: "Luis", Assigned: "01/10/2024"}, first.Slots[1])
	assert.Equal(t, report.S13Slot{}, first.Slots[3])

	headers := report.S13Headers(report.DefaultMaxSlots)
	assert.Len(t, headers, 14)
	assert.Len(t, first.Cells(), len(headers))
	assert.Equal(t, "Ana", first.Cells()[2])
	assert.Equal(t, "Luis", first.Cells()[5])
}
