// Package period holds the calendar helpers behind the S-13 report: reading loosely typed
// timestamps, service-year and semester ranges, and month grouping.
package period

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidRange = errors.New("invalid period")

// Range is an inclusive reporting window.
type Range struct {
	Start time.Time `json:"start" format:"date-time"`
	End   time.Time `json:"end" format:"date-time"`
	Label string    `json:"label,omitempty"`
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// MonthName returns the Spanish month name used in report labels.
func MonthName(m time.Month) string {
	if m < time.January || m > time.December {
		return ""
	}
	return monthNames[m-1]
}

// MonthLabel renders "septiembre 2024".
func MonthLabel(year int, m time.Month) string {
	return fmt.Sprintf("%s %d", MonthName(m), year)
}

func endOfDay(year int, m time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, m, day, 23, 59, 59, 0, loc)
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// ServiceYearRange spans September 1 of serviceYear-1 through August 31 of serviceYear.
func ServiceYearRange(serviceYear int, loc *time.Location) Range {
	loc = location(loc)
	return Range{
		Start: time.Date(serviceYear-1, time.September, 1, 0, 0, 0, 0, loc),
		End:   endOfDay(serviceYear, time.August, 31, loc),
		Label: fmt.Sprintf("Año de servicio %d-%d", serviceYear-1, serviceYear),
	}
}

// SemesterRange returns Sep–Feb for semester 1 and Mar–Aug for semester 2. The first
// semester always ends on February 28, leap years included.
func SemesterRange(serviceYear, semester int, loc *time.Location) (Range, error) {
	loc = location(loc)
	switch semester {
	case 1:
		return Range{
			Start: time.Date(serviceYear-1, time.September, 1, 0, 0, 0, 0, loc),
			End:   endOfDay(serviceYear, time.February, 28, loc),
			Label: fmt.Sprintf("Semestre 1 (sep %d - feb %d)", serviceYear-1, serviceYear),
		}, nil
	case 2:
		return Range{
			Start: time.Date(serviceYear, time.March, 1, 0, 0, 0, 0, loc),
			End:   endOfDay(serviceYear, time.August, 31, loc),
			Label: fmt.Sprintf("Semestre 2 (mar %d - ago %d)", serviceYear, serviceYear),
		}, nil
	default:
		return Range{}, fmt.Errorf("%w: semester must be 1 or 2, got %d", ErrInvalidRange, semester)
	}
}

// CustomRange runs from the first day of the start month to the last calendar day of the
// end month. Months are 1-based.
func CustomRange(startMonth, startYear, endMonth, endYear int, loc *time.Location) (Range, error) {
	loc = location(loc)
	if startMonth < 1 || startMonth > 12 || endMonth < 1 || endMonth > 12 {
		return Range{}, fmt.Errorf("%w: months must be between 1 and 12", ErrInvalidRange)
	}
	start := time.Date(startYear, time.Month(startMonth), 1, 0, 0, 0, 0, loc)
	// day 0 of the following month is the last day of endMonth
	last := time.Date(endYear, time.Month(endMonth)+1, 0, 0, 0, 0, 0, loc)
	end := endOfDay(last.Year(), last.Month(), last.Day(), loc)
	if end.Before(start) {
		return Range{}, fmt.Errorf("%w: end before start", ErrInvalidRange)
	}
	return Range{
		Start: start,
		End:   end,
		Label: fmt.Sprintf("%s - %s", MonthLabel(startYear, time.Month(startMonth)), MonthLabel(endYear, time.Month(endMonth))),
	}, nil
}

// CurrentServiceYear rolls over on September 1.
func CurrentServiceYear(now time.Time) int {
	if now.Month() >= time.September {
		return now.Year() + 1
	}
	return now.Year()
}

// AvailableServiceYears lists the five most recent service years, newest first.
func AvailableServiceYears(now time.Time) []int {
	current := CurrentServiceYear(now)
	years := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		years = append(years, current-i)
	}
	return years
}

// Selection picks one of the three period kinds offered by the report dialog.
type Selection struct {
	Kind        string `json:"kind" yaml:"kind"`
	ServiceYear int    `json:"service_year,omitempty" yaml:"service_year"`
	Semester    int    `json:"semester,omitempty" yaml:"semester"`
	StartMonth  int    `json:"start_month,omitempty" yaml:"start_month"`
	StartYear   int    `json:"start_year,omitempty" yaml:"start_year"`
	EndMonth    int    `json:"end_month,omitempty" yaml:"end_month"`
	EndYear     int    `json:"end_year,omitempty" yaml:"end_year"`
}

const (
	KindServiceYear = "service_year"
	KindSemester    = "semester"
	KindCustom      = "custom"
)

// Resolve turns the selection into a range. An empty kind means the current service year.
func (s Selection) Resolve(now time.Time, loc *time.Location) (Range, error) {
	kind := strings.TrimSpace(s.Kind)
	if kind == "" {
		switch {
		case s.StartMonth != 0 || s.EndMonth != 0:
			kind = KindCustom
		case s.Semester != 0:
			kind = KindSemester
		default:
			kind = KindServiceYear
		}
	}
	serviceYear := s.ServiceYear
	if serviceYear == 0 {
		serviceYear = CurrentServiceYear(now)
	}
	switch kind {
	case KindServiceYear:
		return ServiceYearRange(serviceYear, loc), nil
	case KindSemester:
		return SemesterRange(serviceYear, s.Semester, loc)
	case KindCustom:
		return CustomRange(s.StartMonth, s.StartYear, s.EndMonth, s.EndYear, loc)
	default:
		return Range{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRange, s.Kind)
	}
}

// ToDate reads a loosely typed timestamp. It returns nil for nil input and a pointer to the
// zero time when the value cannot be read; it never panics.
func ToDate(v any) *time.Time {
	return ToDateIn(v, time.Local)
}

// ToDateIn is ToDate with strings that carry no offset read as wall time in loc.
func ToDateIn(v any, loc *time.Location) *time.Time {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return &val
	case *time.Time:
		if val == nil {
			return nil
		}
		t := *val
		return &t
	case interface{ ToDate() time.Time }:
		t := val.ToDate()
		return &t
	case interface{ Time() time.Time }:
		t := val.Time()
		return &t
	case map[string]any:
		return fromSecondsMap(val)
	case string:
		return fromString(val, location(loc))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return fromMillis(f)
		}
		return invalid()
	case float64:
		return fromMillis(val)
	case float32:
		return fromMillis(float64(val))
	case int:
		return fromMillis(float64(val))
	case int64:
		return fromMillis(float64(val))
	case int32:
		return fromMillis(float64(val))
	default:
		return invalid()
	}
}

func invalid() *time.Time {
	var t time.Time
	return &t
}

// Valid reports whether t holds a usable date.
func Valid(t *time.Time) bool {
	return t != nil && !t.IsZero()
}

func fromMillis(ms float64) *time.Time {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return invalid()
	}
	t := time.UnixMilli(int64(ms))
	return &t
}

func fromSecondsMap(m map[string]any) *time.Time {
	secs, ok := numberField(m, "seconds", "_seconds")
	if !ok {
		if inner, found := m["$date"]; found {
			return ToDateIn(inner, time.UTC)
		}
		return invalid()
	}
	nanos, _ := numberField(m, "nanoseconds", "_nanoseconds")
	t := time.Unix(int64(secs), int64(nanos))
	return &t
}

func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
}

// minMillisDigits keeps short numbers such as a bare year from reading as 1970 instants.
const minMillisDigits = 12

func fromString(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return invalid()
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	if len(strings.TrimPrefix(s, "-")) < minMillisDigits {
		return invalid()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromMillis(f)
	}
	return invalid()
}

// In returns t moved to loc. Missing and invalid dates are returned unchanged.
func In(t *time.Time, loc *time.Location) *time.Time {
	if !Valid(t) || loc == nil {
		return t
	}
	v := t.In(loc)
	return &v
}

// FormatDate renders dd/mm/yyyy, or "" for missing and invalid dates.
func FormatDate(t *time.Time) string {
	if !Valid(t) {
		return ""
	}
	return t.Format("02/01/2006")
}

// FormatDateShort renders dd/mm/yy.
func FormatDateShort(t *time.Time) string {
	if !Valid(t) {
		return ""
	}
	return t.Format("02/01/06")
}

// MonthGroup collects items that share a calendar month.
type MonthGroup[T any] struct {
	Year  int
	Month time.Month
	Label string
	Items []T
}

// GroupByMonth groups items by the year and month of dateOf, skipping items without a
// valid date. Groups come back in chronological order whatever the input order.
func GroupByMonth[T any](items []T, dateOf func(T) *time.Time) []MonthGroup[T] {
	type key struct {
		year  int
		month time.Month
	}
	index := map[key]int{}
	var groups []MonthGroup[T]
	for _, item := range items {
		d := dateOf(item)
		if !Valid(d) {
			continue
		}
		k := key{d.Year(), d.Month()}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, MonthGroup[T]{Year: k.year, Month: k.month, Label: MonthLabel(k.year, k.month)})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Year != groups[j].Year {
			return groups[i].Year < groups[j].Year
		}
		return groups[i].Month < groups[j].Month
	})
	return groups
}

// DaysBetween is ceil(|b-a| / 24h).
func DaysBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return int(math.Ceil(d.Hours() / 24))
}
