package report

import (
	"strconv"

	"s13report/internal/domain"
	"s13report/internal/period"
)

// S13Slot is one name / assigned / completed column group of the paper form.
type S13Slot struct {
	AssignedTo string
	Assigned   string
	Completed  string
}

// S13Row is one territory line of the S-13 form. Both the workbook and the print
// document render these rows, so a lifecycle lands in the same column group in each.
type S13Row struct {
	Number              string
	Name                string
	LastCompletedBefore string
	Slots               []S13Slot
}

// S13Rows lays the territory summaries out in form order with exactly maxSlots slots per
// row. Slots beyond the territory's lifecycles are blank.
func S13Rows(data domain.S13Data, maxSlots int) []S13Row {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxSlots
	}
	rows := make([]S13Row, 0, len(data.SummaryByTerritory))
	for _, s := range data.SummaryByTerritory {
		row := S13Row{
			Number:              strconv.Itoa(s.TerritoryNumber),
			Name:                s.TerritoryName,
			LastCompletedBefore: period.FormatDate(s.LastCompletedBefore),
			Slots:               make([]S13Slot, maxSlots),
		}
		if s.TerritoryNumber == 0 {
			row.Number = s.TerritoryName
		}
		for i, lc := range s.Assignments {
			if i >= maxSlots {
				break
			}
			row.Slots[i] = S13Slot{
				AssignedTo: lc.AssignedTo,
				Assigned:   period.FormatDate(lc.AssignedDate),
				Completed:  period.FormatDate(lc.CompletedDate),
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// S13Headers are the column titles of the form, left to right.
func S13Headers(maxSlots int) []string {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxSlots
	}
	headers := []string{"Núm. de terr.", "Última fecha en que se completó"}
	for i := 0; i < maxSlots; i++ {
		headers = append(headers, "Asignado a", "Fecha en que se asignó", "Fecha en que se completó")
	}
	return headers
}

// Cells flattens the row into the column order of S13Headers.
func (r S13Row) Cells() []string {
	cells := make([]string, 0, 2+3*len(r.Slots))
	cells = append(cells, r.Number, r.LastCompletedBefore)
	for _, s := range r.Slots {
		cells = append(cells, s.AssignedTo, s.Assigned, s.Completed)
	}
	return cells
}
