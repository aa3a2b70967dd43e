package export

import (
	"fmt"
	"html/template"
	"io"

	"s13report/internal/domain"
	"s13report/internal/period"
	"s13report/internal/report"
)

const printStyle = `
  * { box-sizing: border-box; }
  body { font-family: Arial, Helvetica, sans-serif; font-size: 10pt; margin: 0; color: #000; }
  h1 { font-size: 14pt; text-align: center; margin: 0 0 4pt; }
  .meta { text-align: center; margin-bottom: 8pt; }
  table { border-collapse: collapse; width: 100%; }
  th, td { border: 1px solid #000; padding: 2pt 3pt; vertical-align: middle; }
  th { background: #d9d9d9; font-weight: bold; text-align: center; }
  td.num { text-align: center; }
  .stats { margin: 6pt 0 10pt; }
  .stats td { border: none; padding: 1pt 6pt 1pt 0; }
`

const s13Template = `<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
@page { size: A4 landscape; margin: 10mm; }
{{.Style}}
  td.slot { min-width: 18mm; }
</style>
</head>
<body>
<h1>REGISTRO DE ASIGNACIÓN DE TERRITORIO</h1>
<div class="meta">{{if .Congregation}}{{.Congregation}} · {{end}}{{.Label}}</div>
<table>
  <thead>
    <tr>
      <th rowspan="2">{{index .Headers 0}}</th>
      <th rowspan="2">{{index .Headers 1}}</th>
      {{range .SlotNumbers}}<th colspan="3">Asignación {{.}}</th>{{end}}
    </tr>
    <tr>
      {{range .SlotHeaders}}<th>{{.}}</th>{{end}}
    </tr>
  </thead>
  <tbody>
    {{range .Rows}}<tr>
      <td class="num">{{.Number}}</td>
      <td class="num">{{.LastCompletedBefore}}</td>
      {{range .Slots}}<td class="slot">{{.AssignedTo}}</td><td class="num">{{.Assigned}}</td><td class="num">{{.Completed}}</td>{{end}}
    </tr>
    {{end}}
  </tbody>
</table>
{{if .AutoPrint}}<script>window.addEventListener("load", function () { window.print(); });</script>{{end}}
</body>
</html>
`

const summaryTemplate = `<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
@page { size: A4 portrait; margin: 15mm; }
{{.Style}}
</style>
</head>
<body>
<h1>Resumen de Territorios</h1>
<div class="meta">{{if .Congregation}}{{.Congregation}} · {{end}}{{.Period}}</div>
<table class="stats">
  <tr><td>Territorios</td><td>{{.Stats.TotalTerritories}}</td></tr>
  <tr><td>Trabajados</td><td>{{.Stats.Worked}} ({{.Stats.WorkedPercent}}%)</td></tr>
  <tr><td>No trabajados</td><td>{{.Stats.NotWorked}} ({{.Stats.NotWorkedPercent}}%)</td></tr>
  <tr><td>Promedio de días</td><td>{{days .Stats.AverageDays}}</td></tr>
  <tr><td>Veces completados</td><td>{{.Stats.TotalCompletions}}</td></tr>
</table>
<table>
  <thead>
    <tr><th>Territorio</th><th>Nombre</th><th>Veces completado</th><th>Promedio de días</th><th>Última vez completado</th></tr>
  </thead>
  <tbody>
    {{range .Summary}}<tr>
      <td class="num">{{.TerritoryNumber}}</td>
      <td>{{.TerritoryName}}</td>
      <td class="num">{{.CompletedCount}}</td>
      <td class="num">{{days .AverageDays}}</td>
      <td class="num">{{date .LastCompleted}}</td>
    </tr>
    {{end}}
  </tbody>
</table>
{{if .AutoPrint}}<script>window.addEventListener("load", function () { window.print(); });</script>{{end}}
</body>
</html>
`

var funcs = template.FuncMap{
	"date": period.FormatDate,
	"days": func(v *int) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprint(*v)
	},
}

var (
	s13Doc     = template.Must(template.New("s13").Funcs(funcs).Parse(s13Template))
	summaryDoc = template.Must(template.New("summary").Funcs(funcs).Parse(summaryTemplate))
)

// RenderS13HTML writes the landscape print document of the S-13 form.
func RenderS13HTML(w io.Writer, data domain.S13Data, rng period.Range, opts Options) error {
	slots := opts.slots()
	headers := report.S13Headers(slots)
	numbers := make([]int, slots)
	for i := range numbers {
		numbers[i] = i + 1
	}
	return s13Doc.Execute(w, map[string]any{
		"Title":        "S-13 " + rng.Label,
		"Style":        template.CSS(printStyle),
		"Congregation": opts.Congregation,
		"Label":        rng.Label,
		"Headers":      headers,
		"SlotNumbers":  numbers,
		"SlotHeaders":  headers[2:],
		"Rows":         report.S13Rows(data, slots),
		"AutoPrint":    opts.AutoPrint,
	})
}

// RenderSummaryHTML writes the portrait print document of the coverage summary.
func RenderSummaryHTML(w io.Writer, sum domain.SimpleSummary, rng period.Range, opts Options) error {
	return summaryDoc.Execute(w, map[string]any{
		"Title":        "Resumen de Territorios",
		"Style":        template.CSS(printStyle),
		"Congregation": opts.Congregation,
		"Period":       periodLine(rng),
		"Stats":        sum.Stats,
		"Summary":      sum.Summary,
		"AutoPrint":    opts.AutoPrint,
	})
}
