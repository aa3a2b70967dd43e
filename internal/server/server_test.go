package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"s13report/internal/config"
	"s13report/internal/db"
	"s13report/internal/engine"
	"s13report/internal/events"
	"s13report/internal/export"
	"s13report/internal/migrate"
	"s13report/internal/period"
	"s13report/internal/repo"
	"s13report/internal/source"
)

const exportJSON = `{
  "territories": [{"id": "t1", "name": "Territorio 1"}, {"id": "t2", "name": "Territorio 2"}],
  "territoryHistory": [
    {"territoryId": "t1", "status": "Asignado", "assignedTo": "Ana", "assignedDate": "2024-09-10T00:00:00Z"},
    {"territoryId": "t1", "status": "Completado", "assignedTo": "Ana", "assignedDate": "2024-09-10T00:00:00Z", "completedDate": "2024-09-30T00:00:00Z"},
    {"territoryId": "t2", "status": "Asignado", "assignedTo": ["Eva", "Marta"], "assignedDate": "2024-11-02T00:00:00Z"}
  ]
}`

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Report.Congregation = "Central"
	cfg.Report.Timezone = "UTC"
	e := engine.New(conn, cfg, nil)
	e.Now = func() time.Time { return time.Date(2024, 12, 1, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doRequest(t *testing.T, client *http.Client, method, url string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func doJSON(t *testing.T, srv *testServer, method, path string, body []byte, out any) int {
	t.Helper()
	res, data := doRequest(t, srv.Client(), method, srv.URL+path, body, nil)
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal %s: %v (%s)", path, err, string(data))
		}
	}
	return res.StatusCode
}

func importFixture(t *testing.T, srv *testServer) {
	t.Helper()
	var res map[string]any
	status := doJSON(t, srv, http.MethodPost, "/v0/imports", []byte(exportJSON), &res)
	require.Equal(t, http.StatusOK, status, res)
	assert.EqualValues(t, 3, res["history_inserted"])
}

type apiErr struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHealthAndServiceYears(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	var health map[string]string
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/health", nil, &health))
	assert.Equal(t, "ok", health["status"])

	var years []ServiceYearResponse
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/service-years", nil, &years))
	require.Len(t, years, 5)
	assert.Equal(t, ServiceYearResponse{Year: 2025, Label: "Año de servicio 2024-2025"}, years[0])
}

func TestS13ReportRecordsRun(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	importFixture(t, srv)

	var body struct {
		RunID              string `json:"run_id"`
		PeriodLabel        string `json:"period_label"`
		SummaryByTerritory []struct {
			TerritoryID    string `json:"territory_id"`
			CompletedCount int    `json:"completed_count"`
		} `json:"summary_by_territory"`
		Stats map[string]int `json:"stats"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/reports/s13?service_year=2025", nil, &body))
	assert.Equal(t, "Año de servicio 2024-2025", body.PeriodLabel)
	require.Len(t, body.SummaryByTerritory, 2)
	assert.Equal(t, 1, body.SummaryByTerritory[0].CompletedCount)
	assert.Equal(t, 2, body.Stats["total_assignments"])
	assert.Equal(t, 1, body.Stats["in_progress_assignments"])

	var run ReportRunResponse
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/runs/"+body.RunID, nil, &run))
	assert.Equal(t, "s13", run.Kind)
	assert.Equal(t, "local-user", run.ActorID)
	assert.EqualValues(t, 2, run.Stats["total_territories"])

	var runs paginatedRuns
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/runs?kind=summary", nil, &runs))
	assert.Empty(t, runs.Items)

	var notFound apiErr
	require.Equal(t, http.StatusNotFound, doJSON(t, srv, http.MethodGet, "/v0/runs/missing", nil, &notFound))
	assert.Equal(t, "not_found", notFound.Error.Code)
}

func TestSummaryReportSemester(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	importFixture(t, srv)

	var body struct {
		Summary []struct {
			TerritoryID    string `json:"territory_id"`
			CompletedCount int    `json:"completed_count"`
			AverageDays    *int   `json:"average_days"`
		} `json:"summary"`
		Stats map[string]any `json:"stats"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/reports/summary?service_year=2025&semester=1", nil, &body))
	require.Len(t, body.Summary, 2)
	require.NotNil(t, body.Summary[0].AverageDays)
	assert.Equal(t, 20, *body.Summary[0].AverageDays)
	assert.Nil(t, body.Summary[1].AverageDays)
	assert.EqualValues(t, 50, body.Stats["worked_percent"])
}

func TestInvalidPeriod(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	var res apiErr
	require.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodGet, "/v0/reports/s13?semester=3", nil, &res))
	assert.Equal(t, "invalid_period", res.Error.Code)

	require.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodGet, "/v0/reports/summary?start_month=13&start_year=2024&end_month=2&end_year=2025", nil, &res))
	assert.Equal(t, "invalid_period", res.Error.Code)
}

func TestBadImport(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	var res apiErr
	require.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodPost, "/v0/imports", []byte("{"), &res))
	assert.Equal(t, "bad_request", res.Error.Code)
}

func TestWorkbookDownload(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	importFixture(t, srv)

	res, data := doRequest(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports/s13.xlsx?service_year=2025", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, xlsxContentType, res.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="S-13_Registro_Territorio_2024-2025.xlsx"`, res.Header.Get("Content-Disposition"))
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{export.SheetSummary, export.SheetByMonth, export.SheetS13}, f.GetSheetList())
	v, err := f.GetCellValue(export.SheetS13, "A2")
	require.NoError(t, err)
	assert.Equal(t, "Central - Año de servicio 2024-2025", v)

	res, _ = doRequest(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports/summary.xlsx?service_year=2025", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `attachment; filename="Resumen_Territorios_2024-12-01.xlsx"`, res.Header.Get("Content-Disposition"))
}

func TestPrintableDocuments(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	importFixture(t, srv)

	res, data := doRequest(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports/s13.html?service_year=2025", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.HasPrefix(res.Header.Get("Content-Type"), "text/html"))
	assert.Contains(t, string(data), "landscape")
	assert.Contains(t, string(data), "window.print()")

	_, data = doRequest(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports/summary.html?service_year=2025&print=false", nil, nil)
	assert.NotContains(t, string(data), "window.print()")
	assert.Contains(t, string(data), "Territorio 2")
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	importFixture(t, srv)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/reports/summary?service_year=2025", nil, nil))
	}

	var page paginatedEvents
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/events?limit=2", nil, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, events.ReportGenerated, page.Items[0].Type)
	require.NotEmpty(t, page.NextCursor)

	var next paginatedEvents
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/events?limit=2&cursor="+page.NextCursor, nil, &next))
	require.Len(t, next.Items, 1)
	assert.Equal(t, events.ImportCompleted, next.Items[0].Type)
	assert.Empty(t, next.NextCursor)

	var filtered paginatedEvents
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/v0/events?type=import.completed", nil, &filtered))
	require.Len(t, filtered.Items, 1)
	assert.EqualValues(t, 2, filtered.Items[0].Payload["territories"])

	var bad apiErr
	require.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodGet, "/v0/events?cursor=abc", nil, &bad))
}

func TestAuthRequired(t *testing.T) {
	secret := "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret, Required: true})
	client := srv.Client()

	res, _ := doRequest(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doRequest(t, client, http.MethodGet, srv.URL+"/v0/service-years", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, string(data), `"code":"unauthorized"`)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "secretario"})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	res, data = doRequest(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + signed})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var me PrincipalResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, PrincipalResponse{ActorID: "secretario", Source: "jwt"}, me)

	wrong, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("other"))
	require.NoError(t, err)
	res, _ = doRequest(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + wrong})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	plain, _, err := srv.Engine.CreateAPIKey(context.Background(), "auxiliar", "tablet")
	require.NoError(t, err)
	res, data = doRequest(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": plain})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "auxiliar", me.ActorID)

	res, _ = doRequest(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "s13_nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// reports generated with a key are recorded under its actor
	res, data = doRequest(t, client, http.MethodGet, srv.URL+"/v0/reports/summary?service_year=2025", nil, map[string]string{"X-Api-Key": plain})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var sum SummaryResponse
	require.NoError(t, json.Unmarshal(data, &sum))
	run, err := srv.Engine.Repo.GetReportRun(context.Background(), sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, "auxiliar", run.ActorID)
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Required: true})
	res, data := doRequest(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.Paths, "/v0/reports/s13.xlsx")
	assert.Empty(t, doc.Paths["/v0/health"]["get"].Security)
	assert.Len(t, doc.Paths["/v0/reports/s13"]["get"].Security, 2)

	res, data = doRequest(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v0/openapi.json")
}

func TestWebhookDelivery(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	var mu sync.Mutex
	var got []webhookEvent
	var secrets []string
	fail := true
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		got = append(got, evt)
		secrets = append(secrets, r.Header.Get("X-S13-Secret"))
	}))
	defer hook.Close()

	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{events.ReportGenerated}, Secret: "s3cret"},
	}, nil)
	require.True(t, d.Active())
	ctx := context.Background()
	d.DispatchAll(ctx)

	exp, err := source.ReadExport(strings.NewReader(exportJSON))
	require.NoError(t, err)
	_, err = srv.Engine.Import(ctx, exp, "")
	require.NoError(t, err)
	rng, err := srv.Engine.Resolve(period.Selection{ServiceYear: 2025})
	require.NoError(t, err)
	_, run, err := srv.Engine.Summary(ctx, source.Store{Repo: srv.Engine.Repo}, rng, "")
	require.NoError(t, err)

	d.DispatchAll(ctx) // first delivery fails and is retried
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, events.ReportGenerated, got[0].Type)
	assert.Equal(t, run.ID, got[0].EntityID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, "summary", payload["kind"])
	assert.Equal(t, []string{"s3cret"}, secrets)
}

func TestDispatcherInactive(t *testing.T) {
	off := false
	d := NewWebhookDispatcher(repo.Repo{}, []config.WebhookConfig{{URL: "http://127.0.0.1:1", Enabled: &off}}, nil)
	assert.False(t, d.Active())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)
}
