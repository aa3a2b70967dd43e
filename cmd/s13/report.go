package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"s13report/internal/archive"
	"s13report/internal/config"
	"s13report/internal/domain"
	"s13report/internal/engine"
	"s13report/internal/export"
	"s13report/internal/export/pdf"
	"s13report/internal/history"
	"s13report/internal/period"
	"s13report/internal/report"
	"s13report/internal/source"
)

type periodFlags struct {
	sel period.Selection
}

func (p *periodFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.sel.Kind, "period", "", "period kind: service_year, semester or custom (inferred when empty)")
	cmd.Flags().IntVar(&p.sel.ServiceYear, "service-year", 0, "service year, named by the year it ends in (default current)")
	cmd.Flags().IntVar(&p.sel.Semester, "semester", 0, "semester of the service year (1 or 2)")
	cmd.Flags().IntVar(&p.sel.StartMonth, "start-month", 0, "custom range start month (1-12)")
	cmd.Flags().IntVar(&p.sel.StartYear, "start-year", 0, "custom range start year")
	cmd.Flags().IntVar(&p.sel.EndMonth, "end-month", 0, "custom range end month (1-12)")
	cmd.Flags().IntVar(&p.sel.EndYear, "end-year", 0, "custom range end year")
}

type sourceFlags struct {
	opts source.Options
}

func (s *sourceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.opts.Kind, "source", "", "history source: json, sqlite or mongo (default from config)")
	cmd.Flags().StringVar(&s.opts.Path, "file", "", "export file for the json source")
	cmd.Flags().StringVar(&s.opts.MongoDatabase, "mongo-db", "", "database for the mongo source")
}

func (s sourceFlags) open(ctx context.Context, e engine.Engine) (source.Source, func(context.Context) error, error) {
	opts := s.opts
	if opts.MongoURI == "" {
		opts.MongoURI = viper.GetString("mongo-uri")
	}
	opts.Location = e.Location()
	opts = opts.Merge(e.Config)
	logger.Debug("opening source", zap.String("kind", opts.Kind), zap.String("path", opts.Path))
	return source.Open(ctx, opts, e.Repo, logger)
}

type outputFlags struct {
	xlsx    bool
	print   bool
	printer string
	out     string
	archive bool
}

func (o *outputFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.xlsx, "xlsx", false, "write the workbook")
	cmd.Flags().BoolVar(&o.print, "print", false, "write the print document")
	cmd.Flags().StringVar(&o.printer, "printer", "", "print output: html or pdf (default from config)")
	cmd.Flags().StringVar(&o.out, "out", "", "output directory (default export.output_dir)")
	cmd.Flags().BoolVar(&o.archive, "archive", false, "also store the report in the Postgres archive (S13_ARCHIVE_DB_URL or DATABASE_URL)")
}

func (o outputFlags) dir(e engine.Engine) string {
	dir := o.out
	if dir == "" {
		dir = e.Config.Export.OutputDir
	}
	if dir == "" {
		dir = "."
	}
	return dir
}

func (o outputFlags) printerFor(e engine.Engine) (export.Printer, bool, error) {
	kind := o.printer
	if kind == "" {
		kind = e.Config.Export.Printer
	}
	switch kind {
	case "", config.PrinterHTML:
		return export.FilePrinter{Dir: o.dir(e)}, true, nil
	case config.PrinterPDF:
		return pdf.Printer{Dir: o.dir(e), Bin: e.Config.Export.ChromeBin, Logger: logger}, false, nil
	default:
		return nil, false, fmt.Errorf("unknown printer %q", kind)
	}
}

// attachArchive connects the Postgres archive when --archive is set. The returned func
// closes it and is never nil.
func (o outputFlags) attachArchive(ctx context.Context, e *engine.Engine) (func(), error) {
	if !o.archive {
		return func() {}, nil
	}
	url := viper.GetString("archive-db-url")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	a, err := archive.Open(ctx, url, e.Config.Archive.Schema, logger)
	if err != nil {
		return func() {}, err
	}
	e.Archive = a
	return func() { _ = a.Close() }, nil
}

func writeFile(dir, name string, write func(*bytes.Buffer) error) (string, error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func importCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a territories/territoryHistory export into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exp, err := source.ReadExportIn(f, e.Location())
				if err != nil {
					return err
				}
				res, err := e.Import(ctx, exp, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable(table.Row{"Batch", "Territories", "History read", "Inserted", "Duplicates", "Skipped"})
				tw.AppendRow(table.Row{res.BatchID, res.Territories, res.HistoryRead, res.HistoryInserted, res.HistoryDuplicate, res.HistorySkipped})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "export file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Generate reports"}
	rep.AddCommand(reportS13Cmd())
	rep.AddCommand(reportSummaryCmd())
	return rep
}

func reportS13Cmd() *cobra.Command {
	var pf periodFlags
	var sf sourceFlags
	var of outputFlags
	cmd := &cobra.Command{
		Use:   "s13",
		Short: "Generate the S-13 territory assignment record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rng, err := e.Resolve(pf.sel)
				if err != nil {
					return err
				}
				src, closeSrc, err := sf.open(ctx, e)
				if err != nil {
					return err
				}
				defer closeSrc(context.Background())
				closeArchive, err := of.attachArchive(ctx, &e)
				if err != nil {
					return err
				}
				defer closeArchive()

				data, run, err := e.S13(ctx, src, rng, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				opts := export.Options{Congregation: e.Config.Report.Congregation, MaxSlots: e.Config.Report.MaxSlots}
				var files []string
				if of.xlsx {
					path, err := writeFile(of.dir(e), export.S13Filename(rng), func(buf *bytes.Buffer) error {
						return export.WriteS13Workbook(buf, data, rng, opts)
					})
					if err != nil {
						return err
					}
					files = append(files, path)
				}
				if of.print {
					printer, autoPrint, err := of.printerFor(e)
					if err != nil {
						return err
					}
					opts.AutoPrint = autoPrint
					var buf bytes.Buffer
					if err := export.RenderS13HTML(&buf, data, rng, opts); err != nil {
						return err
					}
					path, err := printer.Print(ctx, export.S13Filename(rng), buf.Bytes())
					if err != nil {
						return err
					}
					files = append(files, path)
				}
				if viper.GetBool("json") {
					return printJSON(struct {
						RunID string `json:"run_id"`
						domain.S13Data
						Files []string `json:"files,omitempty"`
					}{run.ID, data, files})
				}
				renderS13(data, e.Config.Report.MaxSlots)
				for _, f := range files {
					fmt.Println("wrote", f)
				}
				return nil
			})
		},
	}
	pf.bind(cmd)
	sf.bind(cmd)
	of.bind(cmd)
	return cmd
}

func reportSummaryCmd() *cobra.Command {
	var pf periodFlags
	var sf sourceFlags
	var of outputFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Generate the territory coverage summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rng, err := e.Resolve(pf.sel)
				if err != nil {
					return err
				}
				src, closeSrc, err := sf.open(ctx, e)
				if err != nil {
					return err
				}
				defer closeSrc(context.Background())
				closeArchive, err := of.attachArchive(ctx, &e)
				if err != nil {
					return err
				}
				defer closeArchive()

				sum, run, err := e.Summary(ctx, src, rng, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				opts := export.Options{Congregation: e.Config.Report.Congregation, MaxSlots: e.Config.Report.MaxSlots}
				var files []string
				if of.xlsx {
					path, err := writeFile(of.dir(e), export.SummaryFilename(sum.GeneratedAt), func(buf *bytes.Buffer) error {
						return export.WriteSummaryWorkbook(buf, sum, rng, opts)
					})
					if err != nil {
						return err
					}
					files = append(files, path)
				}
				if of.print {
					printer, autoPrint, err := of.printerFor(e)
					if err != nil {
						return err
					}
					opts.AutoPrint = autoPrint
					var buf bytes.Buffer
					if err := export.RenderSummaryHTML(&buf, sum, rng, opts); err != nil {
						return err
					}
					path, err := printer.Print(ctx, export.SummaryFilename(sum.GeneratedAt), buf.Bytes())
					if err != nil {
						return err
					}
					files = append(files, path)
				}
				if viper.GetBool("json") {
					return printJSON(struct {
						RunID string `json:"run_id"`
						domain.SimpleSummary
						Files []string `json:"files,omitempty"`
					}{run.ID, sum, files})
				}
				renderSummary(sum)
				for _, f := range files {
					fmt.Println("wrote", f)
				}
				return nil
			})
		},
	}
	pf.bind(cmd)
	sf.bind(cmd)
	of.bind(cmd)
	return cmd
}

func renderS13(data domain.S13Data, maxSlots int) {
	fmt.Println(data.PeriodLabel)
	header := table.Row{}
	for _, h := range report.S13Headers(maxSlots) {
		header = append(header, h)
	}
	tw := newTable(header)
	for _, row := range report.S13Rows(data, maxSlots) {
		r := table.Row{}
		for _, c := range row.Cells() {
			r = append(r, c)
		}
		tw.AppendRow(r)
	}
	tw.Render()

	st := newTable(table.Row{"Territorios", "Con actividad", "Asignaciones", "Completadas", "En progreso"})
	st.AppendRow(table.Row{data.Stats.TotalTerritories, data.Stats.TerritoriesWithActivity, data.Stats.TotalAssignments,
		data.Stats.CompletedAssignments, data.Stats.InProgressAssignments})
	st.Render()

	if len(data.Ambiguities) == 0 {
		return
	}
	at := newTable(table.Row{"Territory", "Kind", "Assigned to", "Assigned", "Detail"})
	for _, a := range data.Ambiguities {
		at.AppendRow(table.Row{a.TerritoryID, a.Kind, a.AssignedTo, period.FormatDate(a.AssignedDate), a.Detail})
	}
	at.Render()
}

func renderSummary(sum domain.SimpleSummary) {
	fmt.Println(sum.PeriodLabel)
	tw := newTable(table.Row{"Núm.", "Territorio", "Completado", "Promedio de días", "Última vez"})
	for _, s := range sum.Summary {
		tw.AppendRow(table.Row{s.TerritoryNumber, s.TerritoryName, s.CompletedCount, optionalDays(s.AverageDays), period.FormatDate(s.LastCompleted)})
	}
	tw.Render()
	st := newTable(table.Row{"Territorios", "Trabajados", "No trabajados", "Promedio de días", "Veces completados"})
	st.AppendRow(table.Row{
		sum.Stats.TotalTerritories,
		fmt.Sprintf("%d (%d%%)", sum.Stats.Worked, sum.Stats.WorkedPercent),
		fmt.Sprintf("%d (%d%%)", sum.Stats.NotWorked, sum.Stats.NotWorkedPercent),
		optionalDays(sum.Stats.AverageDays),
		sum.Stats.TotalCompletions,
	})
	st.Render()
}

func optionalDays(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func territoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "territories",
		Short: "List imported territories in form order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				territories, err := e.Repo.ListTerritories(ctx)
				if err != nil {
					return err
				}
				territories = report.SortTerritories(territories)
				if viper.GetBool("json") {
					return printJSON(territories)
				}
				tw := newTable(table.Row{"Núm.", "ID", "Nombre"})
				for _, t := range territories {
					tw.AppendRow(table.Row{report.TerritoryNumber(t.Name), t.ID, t.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	var territoryID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List imported history records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListHistory(ctx, territoryID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"Territory", "Status", "Assigned to", "Assigned", "Completed"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.TerritoryID, evt.Status, history.DisplayName(evt.AssignedTo),
						period.FormatDate(evt.AssignedDate), period.FormatDate(evt.CompletedDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&territoryID, "territory", "", "territory id filter")
	return cmd
}

func yearsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "years",
		Short: "List selectable service years",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e := engine.New(nil, cfg, logger)
			loc := e.Location()
			type year struct {
				Year  int    `json:"year"`
				Label string `json:"label"`
			}
			var years []year
			for _, y := range e.ServiceYears() {
				years = append(years, year{Year: y, Label: period.ServiceYearRange(y, loc).Label})
			}
			if viper.GetBool("json") {
				return printJSON(years)
			}
			tw := newTable(table.Row{"Year", "Label"})
			for _, y := range years {
				tw.AppendRow(table.Row{y.Year, y.Label})
			}
			tw.Render()
			return nil
		},
	}
}

func runsCmd() *cobra.Command {
	var kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List generated reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.Repo.ListReportRuns(ctx, kind, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable(table.Row{"ID", "Kind", "Period", "Ambiguities", "Actor", "Created"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.Kind, r.PeriodLabel, r.Ambiguities, r.ActorID, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "s13 or summary")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}
