package s13sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal S-13 report API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// Period selects a report window. The zero value is the current service year.
type Period struct {
	Kind        string
	ServiceYear int
	Semester    int
	StartMonth  int
	StartYear   int
	EndMonth    int
	EndYear     int
}

func (p Period) query() url.Values {
	q := url.Values{}
	if p.Kind != "" {
		q.Set("kind", p.Kind)
	}
	set := func(key string, v int) {
		if v != 0 {
			q.Set(key, strconv.Itoa(v))
		}
	}
	set("service_year", p.ServiceYear)
	set("semester", p.Semester)
	set("start_month", p.StartMonth)
	set("start_year", p.StartYear)
	set("end_month", p.EndMonth)
	set("end_year", p.EndYear)
	return q
}

type ServiceYear struct {
	Year  int    `json:"year"`
	Label string `json:"label"`
}

// Assignment is one row of the S-13 detail list (partial).
type Assignment struct {
	TerritoryID     string     `json:"territory_id"`
	TerritoryName   string     `json:"territory_name"`
	TerritoryNumber int        `json:"territory_number"`
	AssignedTo      string     `json:"assigned_to"`
	AssignedDate    *time.Time `json:"assigned_date,omitempty"`
	CompletedDate   *time.Time `json:"completed_date,omitempty"`
	Days            int        `json:"days"`
	Status          string     `json:"status"`
}

type S13Stats struct {
	TotalTerritories        int `json:"total_territories"`
	TerritoriesWithActivity int `json:"territories_with_activity"`
	TotalAssignments        int `json:"total_assignments"`
	CompletedAssignments    int `json:"completed_assignments"`
	InProgressAssignments   int `json:"in_progress_assignments"`
}

// S13Report represents the S-13 report response (partial).
type S13Report struct {
	RunID       string       `json:"run_id"`
	PeriodStart time.Time    `json:"period_start"`
	PeriodEnd   time.Time    `json:"period_end"`
	PeriodLabel string       `json:"period_label"`
	GeneratedAt time.Time    `json:"generated_at"`
	DetailList  []Assignment `json:"detail_list"`
	Stats       S13Stats     `json:"stats"`
}

type SummaryRow struct {
	TerritoryID     string     `json:"territory_id"`
	TerritoryName   string     `json:"territory_name"`
	TerritoryNumber int        `json:"territory_number"`
	CompletedCount  int        `json:"completed_count"`
	AverageDays     *int       `json:"average_days,omitempty"`
	LastCompleted   *time.Time `json:"last_completed,omitempty"`
}

type SummaryStats struct {
	TotalTerritories int  `json:"total_territories"`
	Worked           int  `json:"worked"`
	NotWorked        int  `json:"not_worked"`
	WorkedPercent    int  `json:"worked_percent"`
	NotWorkedPercent int  `json:"not_worked_percent"`
	AverageDays      *int `json:"average_days,omitempty"`
	TotalCompletions int  `json:"total_completions"`
}

// Summary represents the coverage summary response.
type Summary struct {
	RunID       string       `json:"run_id"`
	PeriodStart time.Time    `json:"period_start"`
	PeriodEnd   time.Time    `json:"period_end"`
	PeriodLabel string       `json:"period_label"`
	GeneratedAt time.Time    `json:"generated_at"`
	Summary     []SummaryRow `json:"summary"`
	Stats       SummaryStats `json:"stats"`
}

type ImportResult struct {
	BatchID          string `json:"batch_id"`
	Territories      int    `json:"territories"`
	HistoryRead      int    `json:"history_read"`
	HistoryInserted  int    `json:"history_inserted"`
	HistoryDuplicate int    `json:"history_duplicate"`
	HistorySkipped   int    `json:"history_skipped"`
}

// ReportRun records one generated report.
type ReportRun struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	PeriodStart string         `json:"period_start"`
	PeriodEnd   string         `json:"period_end"`
	PeriodLabel string         `json:"period_label"`
	Stats       map[string]any `json:"stats"`
	Ambiguities int            `json:"ambiguities"`
	ActorID     string         `json:"actor_id"`
	CreatedAt   string         `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type Principal struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

// File is a downloaded document.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Health checks the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.apiPath("health", nil), nil, nil)
}

// ServiceYears lists the selectable service years, newest first.
func (c *Client) ServiceYears(ctx context.Context) ([]ServiceYear, error) {
	var resp []ServiceYear
	err := c.do(ctx, http.MethodGet, c.apiPath("service-years", nil), nil, &resp)
	return resp, err
}

// S13 generates the S-13 record for p.
func (c *Client) S13(ctx context.Context, p Period) (S13Report, error) {
	var resp S13Report
	err := c.do(ctx, http.MethodGet, c.apiPath("reports/s13", p.query()), nil, &resp)
	return resp, err
}

// Summary generates the coverage summary for p.
func (c *Client) Summary(ctx context.Context, p Period) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, c.apiPath("reports/summary", p.query()), nil, &resp)
	return resp, err
}

// S13Workbook downloads the S-13 xlsx workbook.
func (c *Client) S13Workbook(ctx context.Context, p Period) (File, error) {
	return c.download(ctx, c.apiPath("reports/s13.xlsx", p.query()))
}

// SummaryWorkbook downloads the summary xlsx workbook.
func (c *Client) SummaryWorkbook(ctx context.Context, p Period) (File, error) {
	return c.download(ctx, c.apiPath("reports/summary.xlsx", p.query()))
}

// Import uploads a territories/territoryHistory export document.
func (c *Client) Import(ctx context.Context, export io.Reader) (ImportResult, error) {
	var resp ImportResult
	err := c.do(ctx, http.MethodPost, c.apiPath("imports", nil), export, &resp)
	return resp, err
}

// Runs lists generated reports; kind may be empty.
func (c *Client) Runs(ctx context.Context, kind string, limit int) ([]ReportRun, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []ReportRun `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.apiPath("runs", q), nil, &resp)
	return resp.Items, err
}

// Run fetches a report run by id.
func (c *Client) Run(ctx context.Context, id string) (ReportRun, error) {
	var resp ReportRun
	err := c.do(ctx, http.MethodGet, c.apiPath("runs/"+url.PathEscape(id), nil), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, c.apiPath("events", q), nil, &resp)
	return resp, err
}

// Me returns the principal the server resolved for the client's credentials.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, c.apiPath("me", nil), nil, &resp)
	return resp, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+endpoint, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) download(ctx context.Context, endpoint string) (File, error) {
	resp, err := c.send(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return File{}, err
	}
	f := File{ContentType: resp.Header.Get("Content-Type"), Data: data}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		f.Name = params["filename"]
	}
	return f, nil
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func (c *Client) apiPath(p string, q url.Values) string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	endpoint := "/" + strings.Trim(basePath, "/") + "/" + strings.TrimLeft(p, "/")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// ImportBytes is Import for an in-memory export.
func (c *Client) ImportBytes(ctx context.Context, export []byte) (ImportResult, error) {
	return c.Import(ctx, bytes.NewReader(export))
}
