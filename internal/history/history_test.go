package history_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s13report/internal/domain"
	"s13report/internal/history"
)

func TestDisplayName(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{}, ""},
		{[]string{"Ana"}, "Ana"},
		{[]string{"Ana", "Luis"}, "Ana y Luis"},
		{[]string{"Ana", "Luis", "Eva"}, "Ana y Luis y Eva"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, history.DisplayName(tc.in))
	}
}

func TestNormalizeFieldAliases(t *testing.T) {
	evt, err := history.Normalize(map[string]any{
		"territory_id":  "T1",
		"status":        "Asignado",
		"assignee":      []any{"Ana", "Luis"},
		"assignedAt":    "2024-09-10T00:00:00Z",
		"completedDate": map[string]any{"_seconds": float64(1726790400)},
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", evt.TerritoryID)
	assert.Equal(t, domain.StatusAssigned, evt.Status)
	assert.Equal(t, []string{"Ana", "Luis"}, evt.AssignedTo)
	require.NotNil(t, evt.AssignedDate)
	assert.True(t, evt.AssignedDate.Equal(time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, evt.CompletedDate)
	assert.True(t, evt.CompletedDate.Equal(time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC)))
}

func TestNormalizeMissingPieces(t *testing.T) {
	evt, err := history.Normalize(map[string]any{"territoryId": float64(12), "status": "Completado"})
	require.NoError(t, err)
	assert.Equal(t, "12", evt.TerritoryID)
	assert.Nil(t, evt.AssignedTo)
	assert.Nil(t, evt.AssignedDate)
	assert.Nil(t, evt.CompletedDate)

	_, err = history.Normalize(map[string]any{"status": "Asignado"})
	require.ErrorIs(t, err, history.ErrMissingTerritory)
	_, err = history.Normalize(map[string]any{"territoryId": "  "})
	require.ErrorIs(t, err, history.ErrMissingTerritory)
}

func TestNormalizeInReadsWallTimeInZone(t *testing.T) {
	mexico := time.FixedZone("CST", -6*3600)
	evt, err := history.NormalizeIn(map[string]any{
		"territoryId":   "t1",
		"status":        "Asignado",
		"assignedDate":  "2024-09-30 23:00:00",
		"completedDate": "2024-10-05T10:00:00Z",
	}, mexico)
	require.NoError(t, err)
	assert.True(t, evt.AssignedDate.Equal(time.Date(2024, 10, 1, 5, 0, 0, 0, time.UTC)))
	assert.True(t, evt.CompletedDate.Equal(time.Date(2024, 10, 5, 10, 0, 0, 0, time.UTC)))
}

func TestNormalizeAllSkipsUnreadable(t *testing.T) {
	events, skipped := history.NormalizeAll([]map[string]any{
		{"territoryId": "T1", "status": "Asignado", "assignedTo": "Ana"},
		{"status": "Asignado"},
		{"territoryId": "T2", "status": "Completado", "assignedDate": "garbage"},
	})
	assert.Equal(t, 1, skipped)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"Ana"}, events[0].AssignedTo)
	require.NotNil(t, events[1].AssignedDate)
	assert.True(t, events[1].AssignedDate.IsZero())
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, history.IsAssignment(domain.StatusAssigned))
	assert.True(t, history.IsAssignment(domain.StatusReassigned))
	assert.False(t, history.IsAssignment(domain.StatusCompleted))
	assert.True(t, history.IsCompletion(domain.StatusCompleted))
	assert.True(t, history.IsCompletion(domain.StatusAutoCompleted))
	assert.False(t, history.IsCompletion("Devuelto"))
}

func TestFingerprint(t *testing.T) {
	at := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	a := domain.HistoryEvent{TerritoryID: "t1", Status: domain.StatusAssigned, AssignedTo: []string{"Ana"}, AssignedDate: &at}
	b := a
	local := at.In(time.FixedZone("CEST", 2*3600))
	b.AssignedDate = &local
	assert.Equal(t, history.Fingerprint(a), history.Fingerprint(b))

	// identical content under different document ids stays two records
	withID, twin := a, a
	withID.ID = "doc-a"
	twin.ID = "doc-b"
	assert.NotEqual(t, history.Fingerprint(withID), history.Fingerprint(twin))
	assert.NotEqual(t, history.Fingerprint(a), history.Fingerprint(withID))
	edited := withID
	edited.Status = domain.StatusReassigned
	assert.Equal(t, history.Fingerprint(withID), history.Fingerprint(edited))

	c := a
	c.AssignedTo = []string{"Ana", "Luis"}
	assert.NotEqual(t, history.Fingerprint(a), history.Fingerprint(c))

	invalid := time.Time{}
	d := a
	d.AssignedDate = &invalid
	e := a
	e.AssignedDate = nil
	assert.NotEqual(t, history.Fingerprint(d), history.Fingerprint(e))
}
