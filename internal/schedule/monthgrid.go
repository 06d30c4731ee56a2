package schedule

import (
	"time"

	"jobdesk/internal/core"
)

// Cell is one populated day of a month grid.
type Cell struct {
	Date       time.Time `json:"date"`
	JobCount   int       `json:"jobCount"`
	IsToday    bool      `json:"isToday"`
	IsSelected bool      `json:"isSelected"`
}

// GridOptions configures BuildMonthGrid. The zero value starts weeks on
// Sunday, evaluates "today" against time.Now and reads dates in time.Local.
type GridOptions struct {
	WeekStart time.Weekday
	Now       time.Time
	Selected  time.Time
	Location  *time.Location
}

// BuildMonthGrid lays out the month containing anchor as rows of seven
// cells. Cells outside the month are nil, never dates of adjacent months,
// and the last row is padded so the grid is always rectangular.
func BuildMonthGrid(anchor time.Time, jobs []core.Job, opts GridOptions) [][]*Cell {
	loc := orLocal(opts.Location)
	weekStart := opts.WeekStart
	if weekStart < time.Sunday || weekStart > time.Saturday {
		weekStart = time.Sunday
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	year, month, _ := anchor.Date()
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	days := DaysIn(year, month)
	offset := (int(first.Weekday()) - int(weekStart) + 7) % 7

	counts := countByDate(jobs, loc)
	today := keyOf(now.In(loc))
	selected, hasSelected := dateKey{}, !opts.Selected.IsZero()
	if hasSelected {
		selected = keyOf(opts.Selected.In(loc))
	}

	cells := make([]*Cell, 0, 42)
	for i := 0; i < offset; i++ {
		cells = append(cells, nil)
	}
	for d := 1; d <= days; d++ {
		k := dateKey{year: year, month: month, day: d}
		cells = append(cells, &Cell{
			Date:       time.Date(year, month, d, 0, 0, 0, 0, loc),
			JobCount:   counts[k],
			IsToday:    k == today,
			IsSelected: hasSelected && k == selected,
		})
	}
	for len(cells)%7 != 0 {
		cells = append(cells, nil)
	}

	rows := make([][]*Cell, 0, len(cells)/7)
	for i := 0; i < len(cells); i += 7 {
		rows = append(rows, cells[i:i+7:i+7])
	}
	return rows
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// countByDate buckets jobs by calendar date in a single pass; the counts
// agree with len(JobsOnDate) for every day.
func countByDate(jobs []core.Job, loc *time.Location) map[dateKey]int {
	counts := make(map[dateKey]int)
	for _, j := range jobs {
		at, ok := j.ScheduledAt.In(loc)
		if !ok {
			continue
		}
		counts[keyOf(at)]++
	}
	return counts
}
