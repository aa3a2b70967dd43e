package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"s13report/internal/domain"
	"s13report/internal/period"
	"s13report/internal/report"
)

const (
	SheetSummary = "Resumen"
	SheetByMonth = "Detalle por Mes"
	SheetS13     = "Formato S-13"
)

// Options carries the presentational settings shared by every exporter.
type Options struct {
	Congregation string
	MaxSlots     int
	// AutoPrint makes print documents open the print dialog once loaded.
	AutoPrint bool
}

func (o Options) slots() int {
	if o.MaxSlots > 0 {
		return o.MaxSlots
	}
	return report.DefaultMaxSlots
}

// S13Filename names the full report workbook after the years the period spans.
func S13Filename(rng period.Range) string {
	return fmt.Sprintf("S-13_Registro_Territorio_%d-%d.xlsx", rng.Start.Year(), rng.End.Year())
}

// SummaryFilename names the summary workbook after the generation date.
func SummaryFilename(now time.Time) string {
	return fmt.Sprintf("Resumen_Territorios_%s.xlsx", now.Format("2006-01-02"))
}

// sheetWriter appends rows to one sheet and keeps the first error.
type sheetWriter struct {
	f    *excelize.File
	name string
	row  int
	err  error
}

func (s *sheetWriter) cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil && s.err == nil {
		s.err = err
	}
	return name
}

func (s *sheetWriter) append(values ...any) int {
	s.row++
	if s.err != nil {
		return s.row
	}
	if len(values) > 0 {
		s.err = s.f.SetSheetRow(s.name, s.cell(1, s.row), &values)
	}
	return s.row
}

func (s *sheetWriter) style(style int, fromCol, toCol, row int) {
	if s.err != nil || style == 0 {
		return
	}
	s.err = s.f.SetCellStyle(s.name, s.cell(fromCol, row), s.cell(toCol, row), style)
}

func (s *sheetWriter) merge(fromCol, fromRow, toCol, toRow int) {
	if s.err != nil {
		return
	}
	s.err = s.f.MergeCell(s.name, s.cell(fromCol, fromRow), s.cell(toCol, toRow))
}

func (s *sheetWriter) widths(widths ...float64) {
	for i, w := range widths {
		if s.err != nil {
			return
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			s.err = err
			return
		}
		s.err = s.f.SetColWidth(s.name, col, col, w)
	}
}

type styles struct {
	title  int
	header int
	group  int
	cell   int
}

func newStyles(f *excelize.File) (styles, error) {
	var st styles
	var err error
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	if st.title, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}}); err != nil {
		return st, err
	}
	if st.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9D9D9"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    border,
	}); err != nil {
		return st, err
	}
	if st.group, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Color: "#1F4E78"}}); err != nil {
		return st, err
	}
	st.cell, err = f.NewStyle(&excelize.Style{Border: border, Alignment: &excelize.Alignment{Vertical: "center"}})
	return st, err
}

func periodLine(rng period.Range) string {
	line := fmt.Sprintf("Periodo: %s - %s", period.FormatDate(&rng.Start), period.FormatDate(&rng.End))
	if rng.Label != "" {
		line = fmt.Sprintf("%s (%s)", line, rng.Label)
	}
	return line
}

// WriteS13Workbook writes the full report as three sheets: summary, month detail and the
// S-13 form layout.
func WriteS13Workbook(w io.Writer, data domain.S13Data, rng period.Range, opts Options) error {
	f := excelize.NewFile()
	defer f.Close()
	st, err := newStyles(f)
	if err != nil {
		return fmt.Errorf("workbook styles: %w", err)
	}
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	for _, name := range []string{SheetByMonth, SheetS13} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("add sheet %s: %w", name, err)
		}
	}
	if err := writeS13Summary(f, st, data, rng, opts); err != nil {
		return fmt.Errorf("sheet %s: %w", SheetSummary, err)
	}
	if err := writeByMonth(f, st, data); err != nil {
		return fmt.Errorf("sheet %s: %w", SheetByMonth, err)
	}
	if err := writeS13Form(f, st, data, rng, opts); err != nil {
		return fmt.Errorf("sheet %s: %w", SheetS13, err)
	}
	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeS13Summary(f *excelize.File, st styles, data domain.S13Data, rng period.Range, opts Options) error {
	s := &sheetWriter{f: f, name: SheetSummary}
	s.style(st.title, 1, 1, s.append("Registro de Asignación de Territorio (S-13)"))
	if opts.Congregation != "" {
		s.append("Congregación: " + opts.Congregation)
	}
	s.append(periodLine(rng))
	s.append()
	s.append("Territorios", data.Stats.TotalTerritories)
	s.append("Territorios con actividad", data.Stats.TerritoriesWithActivity)
	s.append("Asignaciones", data.Stats.TotalAssignments)
	s.append("Completadas", data.Stats.CompletedAssignments)
	s.append("En progreso", data.Stats.InProgressAssignments)
	s.append()
	header := []any{"Territorio", "Nombre", "Asignaciones", "Completadas", "Última completada antes del periodo", "Última completada en el periodo"}
	s.style(st.header, 1, len(header), s.append(header...))
	for _, t := range data.SummaryByTerritory {
		row := s.append(t.TerritoryNumber, t.TerritoryName, t.TotalAssignments, t.CompletedCount,
			period.FormatDate(t.LastCompletedBefore), period.FormatDate(t.LastCompletedInPeriod))
		s.style(st.cell, 1, len(header), row)
	}
	s.widths(12, 28, 14, 14, 22, 22)
	return s.err
}

func writeByMonth(f *excelize.File, st styles, data domain.S13Data) error {
	s := &sheetWriter{f: f, name: SheetByMonth}
	header := []any{"Territorio", "Asignado a", "Fecha asignación", "Fecha completado", "Días", "Estado"}
	for _, grp := range data.ByMonth {
		s.style(st.group, 1, 1, s.append(grp.Label))
		s.style(st.header, 1, len(header), s.append(header...))
		for _, e := range grp.Entries {
			row := s.append(e.TerritoryName, e.AssignedTo, period.FormatDate(e.AssignedDate),
				period.FormatDate(e.CompletedDate), e.Days, e.Status)
			s.style(st.cell, 1, len(header), row)
		}
		s.append()
	}
	s.widths(20, 28, 16, 16, 8, 14)
	return s.err
}

// writeS13Form lays out the paper form: territory number, last completion before the
// period, then one name/assigned/completed triplet per slot.
func writeS13Form(f *excelize.File, st styles, data domain.S13Data, rng period.Range, opts Options) error {
	s := &sheetWriter{f: f, name: SheetS13}
	slots := opts.slots()
	lastCol := 2 + 3*slots
	s.style(st.title, 1, 1, s.append("REGISTRO DE ASIGNACIÓN DE TERRITORIO"))
	s.merge(1, s.row, lastCol, s.row)
	line := rng.Label
	if opts.Congregation != "" {
		line = opts.Congregation + " - " + line
	}
	s.append(line)

	groupRow := s.append()
	headerRow := s.append()
	headers := report.S13Headers(slots)
	if s.err == nil {
		s.err = f.SetCellValue(SheetS13, s.cell(1, groupRow), headers[0])
	}
	if s.err == nil {
		s.err = f.SetCellValue(SheetS13, s.cell(2, groupRow), headers[1])
	}
	s.merge(1, groupRow, 1, headerRow)
	s.merge(2, groupRow, 2, headerRow)
	for i := 0; i < slots; i++ {
		col := 3 + 3*i
		if s.err == nil {
			s.err = f.SetCellValue(SheetS13, s.cell(col, groupRow), fmt.Sprintf("Asignación %d", i+1))
		}
		s.merge(col, groupRow, col+2, groupRow)
		for j := 0; j < 3; j++ {
			if s.err == nil {
				s.err = f.SetCellValue(SheetS13, s.cell(col+j, headerRow), headers[col-1+j])
			}
		}
	}
	s.style(st.header, 1, lastCol, groupRow)
	s.style(st.header, 1, lastCol, headerRow)

	for _, r := range report.S13Rows(data, slots) {
		cells := r.Cells()
		values := make([]any, len(cells))
		for i, c := range cells {
			values[i] = c
		}
		s.style(st.cell, 1, lastCol, s.append(values...))
	}

	widths := []float64{10, 18}
	for i := 0; i < slots; i++ {
		widths = append(widths, 22, 14, 14)
	}
	s.widths(widths...)
	if s.err != nil {
		return s.err
	}
	orientation := "landscape"
	return f.SetPageLayout(SheetS13, &excelize.PageLayoutOptions{Orientation: &orientation})
}

// WriteSummaryWorkbook writes the coverage summary as a single sheet.
func WriteSummaryWorkbook(w io.Writer, sum domain.SimpleSummary, rng period.Range, opts Options) error {
	f := excelize.NewFile()
	defer f.Close()
	st, err := newStyles(f)
	if err != nil {
		return fmt.Errorf("workbook styles: %w", err)
	}
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	s := &sheetWriter{f: f, name: SheetSummary}
	s.style(st.title, 1, 1, s.append("Resumen de Territorios"))
	if opts.Congregation != "" {
		s.append("Congregación: " + opts.Congregation)
	}
	s.append(periodLine(rng))
	s.append()
	s.append("Territorios", sum.Stats.TotalTerritories)
	s.append("Trabajados", sum.Stats.Worked, fmt.Sprintf("%d%%", sum.Stats.WorkedPercent))
	s.append("No trabajados", sum.Stats.NotWorked, fmt.Sprintf("%d%%", sum.Stats.NotWorkedPercent))
	s.append("Promedio de días", optionalInt(sum.Stats.AverageDays))
	s.append("Veces completados", sum.Stats.TotalCompletions)
	s.append()
	header := []any{"Territorio", "Nombre", "Veces completado", "Promedio de días", "Última vez completado"}
	s.style(st.header, 1, len(header), s.append(header...))
	for _, t := range sum.Summary {
		row := s.append(t.TerritoryNumber, t.TerritoryName, t.CompletedCount, optionalInt(t.AverageDays), period.FormatDate(t.LastCompleted))
		s.style(st.cell, 1, len(header), row)
	}
	s.widths(12, 28, 16, 16, 22)
	if s.err != nil {
		return fmt.Errorf("sheet %s: %w", SheetSummary, s.err)
	}
	return f.Write(w)
}

func optionalInt(v *int) any {
	if v == nil {
		return "-"
	}
	return *v
}
