package archive

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s13report/internal/domain"
	"s13report/internal/period"
	"s13report/internal/report"
)

func TestSanitizeSchema(t *testing.T) {
	got, err := SanitizeSchema("  s13_archive ")
	require.NoError(t, err)
	assert.Equal(t, "s13_archive", got)

	for _, bad := range []string{"", "1abc", "a-b", "public; DROP TABLE x"} {
		_, err := SanitizeSchema(bad)
		assert.Error(t, err, bad)
	}
}

func TestSchemaStatementsUseSchema(t *testing.T) {
	stmts := schemaStatements("reports")
	require.Len(t, stmts, 4)
	for _, s := range stmts {
		assert.Contains(t, s, "reports")
	}
	assert.True(t, strings.Contains(stmts[2], "REFERENCES reports.report_runs(id)"))
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullTime(nil))
	invalid := time.Time{}
	assert.Nil(t, nullTime(&invalid))
	assert.Nil(t, nullDate(&invalid))
	d := time.Date(2024, 9, 12, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, d, nullTime(&d))
	assert.Equal(t, "2024-09-12", nullDate(&d))
	assert.Nil(t, nullInt(nil))
	n := 4
	assert.Equal(t, 4, nullInt(&n))
	assert.Nil(t, nullString(" "))
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "", DefaultSchema, nil)
	assert.Error(t, err)
	_, err = Open(context.Background(), "postgres://localhost/x", "bad-schema", nil)
	assert.Error(t, err)
}

// Runs against a real database when S13_TEST_ARCHIVE_URL is set.
func TestStoreRoundTrip(t *testing.T) {
	url := os.Getenv("S13_TEST_ARCHIVE_URL")
	if url == "" {
		t.Skip("S13_TEST_ARCHIVE_URL not set")
	}
	ctx := context.Background()
	schema := "s13_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	a, err := Open(ctx, url, schema, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = a.DB.ExecContext(ctx, "DROP SCHEMA "+schema+" CASCADE")
		a.Close()
	})

	assigned := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	completed := assigned.AddDate(0, 0, 10)
	events := []domain.HistoryEvent{
		{TerritoryID: "t1", Status: domain.StatusAssigned, AssignedTo: []string{"Ana"}, AssignedDate: &assigned},
		{TerritoryID: "t1", Status: domain.StatusCompleted, AssignedTo: []string{"Ana"}, AssignedDate: &assigned, CompletedDate: &completed},
	}
	territories := []domain.Territory{{ID: "t1", Name: "Territorio 1"}}
	rng := period.ServiceYearRange(2025, time.UTC)
	data, err := report.New(nil).S13(events, territories, rng)
	require.NoError(t, err)
	runID := uuid.New()
	require.NoError(t, a.StoreS13(ctx, runID, data))

	var n int
	require.NoError(t, a.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+schema+".lifecycles WHERE run_id=$1", runID).Scan(&n))
	assert.Equal(t, 1, n)

	sum, err := report.New(nil).Simple(events, territories, rng)
	require.NoError(t, err)
	require.NoError(t, a.StoreSummary(ctx, uuid.New(), sum))
	require.NoError(t, a.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+schema+".report_runs").Scan(&n))
	assert.Equal(t, 2, n)
}
