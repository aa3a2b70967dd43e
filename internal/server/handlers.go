package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"s13report/internal/domain"
	"s13report/internal/engine"
	"s13report/internal/export"
	"s13report/internal/period"
	"s13report/internal/source"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	htmlContentType = "text/html; charset=utf-8"
)

type fileOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func attachment(name string) string {
	return fmt.Sprintf(`attachment; filename="%s"`, name)
}

func exportOptions(e engine.Engine, autoPrint bool) export.Options {
	return export.Options{
		Congregation: e.Config.Report.Congregation,
		MaxSlots:     e.Config.Report.MaxSlots,
		AutoPrint:    autoPrint,
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerServiceYears(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-service-years",
		Method:      http.MethodGet,
		Path:        "/service-years",
		Summary:     "Selectable service years, newest first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ServiceYearResponse `json:"body"`
	}, error) {
		loc := e.Location()
		years := e.ServiceYears()
		res := make([]ServiceYearResponse, 0, len(years))
		for _, y := range years {
			res = append(res, ServiceYearResponse{Year: y, Label: period.ServiceYearRange(y, loc).Label})
		}
		return &struct {
			Body []ServiceYearResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerReports(api huma.API, e engine.Engine, src source.Source) {
	s13 := func(ctx context.Context, q PeriodQuery) (domain.S13Data, domain.ReportRun, period.Range, error) {
		rng, err := e.Resolve(q.selection())
		if err != nil {
			return domain.S13Data{}, domain.ReportRun{}, rng, err
		}
		data, run, err := e.S13(ctx, src, rng, actorID(ctx))
		return data, run, rng, err
	}
	summary := func(ctx context.Context, q PeriodQuery) (domain.SimpleSummary, domain.ReportRun, period.Range, error) {
		rng, err := e.Resolve(q.selection())
		if err != nil {
			return domain.SimpleSummary{}, domain.ReportRun{}, rng, err
		}
		sum, run, err := e.Summary(ctx, src, rng, actorID(ctx))
		return sum, run, rng, err
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-s13-report",
		Method:      http.MethodGet,
		Path:        "/reports/s13",
		Summary:     "Generate the S-13 territory assignment record",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *PeriodQuery) (*struct {
		Body S13Response `json:"body"`
	}, error) {
		data, run, _, err := s13(ctx, *input)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body S13Response `json:"body"`
		}{Body: S13Response{RunID: run.ID, S13Data: data}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-summary-report",
		Method:      http.MethodGet,
		Path:        "/reports/summary",
		Summary:     "Generate the territory coverage summary",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *PeriodQuery) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		sum, run, _, err := summary(ctx, *input)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: SummaryResponse{RunID: run.ID, SimpleSummary: sum}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-s13-workbook",
		Method:      http.MethodGet,
		Path:        "/reports/s13.xlsx",
		Summary:     "Download the S-13 workbook",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *PeriodQuery) (*fileOutput, error) {
		data, _, rng, err := s13(ctx, *input)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := export.WriteS13Workbook(&buf, data, rng, exportOptions(e, false)); err != nil {
			return nil, handleError(err)
		}
		return &fileOutput{
			ContentType:        xlsxContentType,
			ContentDisposition: attachment(export.S13Filename(rng)),
			Body:               buf.Bytes(),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-summary-workbook",
		Method:      http.MethodGet,
		Path:        "/reports/summary.xlsx",
		Summary:     "Download the coverage summary workbook",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *PeriodQuery) (*fileOutput, error) {
		sum, _, rng, err := summary(ctx, *input)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := export.WriteSummaryWorkbook(&buf, sum, rng, exportOptions(e, false)); err != nil {
			return nil, handleError(err)
		}
		return &fileOutput{
			ContentType:        xlsxContentType,
			ContentDisposition: attachment(export.SummaryFilename(sum.GeneratedAt)),
			Body:               buf.Bytes(),
		}, nil
	})

	type printInput struct {
		PeriodQuery
		Print bool `query:"print" default:"true" doc:"open the print dialog when the page loads"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "print-s13-report",
		Method:      http.MethodGet,
		Path:        "/reports/s13.html",
		Summary:     "Printable S-13 document (landscape)",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *printInput) (*fileOutput, error) {
		data, _, rng, err := s13(ctx, input.PeriodQuery)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := export.RenderS13HTML(&buf, data, rng, exportOptions(e, input.Print)); err != nil {
			return nil, handleError(err)
		}
		return &fileOutput{ContentType: htmlContentType, Body: buf.Bytes()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "print-summary-report",
		Method:      http.MethodGet,
		Path:        "/reports/summary.html",
		Summary:     "Printable coverage summary (portrait)",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *printInput) (*fileOutput, error) {
		sum, _, rng, err := summary(ctx, input.PeriodQuery)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := export.RenderSummaryHTML(&buf, sum, rng, exportOptions(e, input.Print)); err != nil {
			return nil, handleError(err)
		}
		return &fileOutput{ContentType: htmlContentType, Body: buf.Bytes()}, nil
	})
}

func registerImports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "import-export",
		Method:      http.MethodPost,
		Path:        "/imports",
		Summary:     "Load a territories/territoryHistory export into the store",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body domain.ImportResult `json:"body"`
	}, error) {
		exp, err := source.ReadExportIn(bytes.NewReader(input.RawBody), e.Location())
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.Import(ctx, exp, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ImportResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-report-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List generated reports, newest first",
	}, func(ctx context.Context, input *struct {
		Kind  string `query:"kind" enum:"s13,summary"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedRuns `json:"body"`
	}, error) {
		runs, err := e.Repo.ListReportRuns(ctx, input.Kind, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedRuns{Items: []ReportRunResponse{}}
		for _, run := range runs {
			resp.Items = append(resp.Items, reportRunResponse(run))
		}
		return &struct {
			Body paginatedRuns `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get one generated report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body ReportRunResponse `json:"body"`
	}, error) {
		run, err := e.Repo.GetReportRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportRunResponse `json:"body"`
		}{Body: reportRunResponse(run)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"import,report_run"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Who the request is authenticated as",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PrincipalResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			p = anonymous
		}
		return &struct {
			Body PrincipalResponse `json:"body"`
		}{Body: PrincipalResponse{ActorID: p.ActorID, Source: p.Source}}, nil
	})
}
