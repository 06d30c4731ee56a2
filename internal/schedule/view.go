package schedule

import (
	"time"

	"jobdesk/internal/core"
)

const dateLayout = "2006-01-02"

// ViewConfig carries the calendar's configuration points.
type ViewConfig struct {
	WeekStart        time.Weekday
	TerminalStatuses []core.JobStatus
	TimeSlots        []string
	Location         *time.Location
	Now              func() time.Time
}

// View combines bucketing and the month grid into the payloads a calendar
// screen renders.
type View struct {
	cfg ViewConfig
}

type (
	SlotJobs struct {
		Label string     `json:"label"`
		Jobs  []core.Job `json:"jobs"`
	}

	DayView struct {
		Date  string     `json:"date"`
		Jobs  []core.Job `json:"jobs"`
		Slots []SlotJobs `json:"slots"`
	}

	MonthView struct {
		Year        int        `json:"year"`
		Month       int        `json:"month"`
		WeekStart   string     `json:"weekStart"`
		Weeks       [][]*Cell  `json:"weeks"`
		Selected    *DayView   `json:"selected,omitempty"`
		Schedulable []core.Job `json:"schedulable"`
	}
)

func NewView(cfg ViewConfig) *View {
	if cfg.TerminalStatuses == nil {
		cfg.TerminalStatuses = DefaultTerminalStatuses
	}
	if cfg.TimeSlots == nil {
		cfg.TimeSlots = DefaultTimeSlots
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &View{cfg: cfg}
}

// Location returns the zone dates are read in.
func (v *View) Location() *time.Location {
	return v.cfg.Location
}

// Today returns the current calendar date in the view's zone at midnight.
func (v *View) Today() time.Time {
	y, m, d := v.cfg.Now().In(v.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, v.cfg.Location)
}

// Month renders the month containing anchor. When selected is non-zero its
// day's jobs and hour slots are attached.
func (v *View) Month(anchor, selected time.Time, jobs []core.Job) MonthView {
	mv := MonthView{
		Year:      anchor.Year(),
		Month:     int(anchor.Month()),
		WeekStart: v.cfg.WeekStart.String(),
		Weeks: BuildMonthGrid(anchor, jobs, GridOptions{
			WeekStart: v.cfg.WeekStart,
			Now:       v.cfg.Now(),
			Selected:  selected,
			Location:  v.cfg.Location,
		}),
		Schedulable: v.Schedulable(jobs),
	}
	if !selected.IsZero() {
		day := v.Day(selected, jobs)
		mv.Selected = &day
	}
	return mv
}

// Day lists the jobs on date and their hour-slot buckets, slots in
// configured order. date is read in the view's location.
func (v *View) Day(date time.Time, jobs []core.Job) DayView {
	date = date.In(v.cfg.Location)
	onDate := JobsOnDate(jobs, date, v.cfg.Location)
	buckets := JobsByHourSlot(onDate, v.cfg.TimeSlots, v.cfg.Location)

	slots := make([]SlotJobs, 0, len(buckets))
	seen := make(map[string]bool, len(buckets))
	for _, label := range v.cfg.TimeSlots {
		bucket, ok := buckets[label]
		if !ok || seen[label] {
			continue
		}
		seen[label] = true
		slots = append(slots, SlotJobs{Label: label, Jobs: bucket})
	}

	return DayView{
		Date:  date.Format(dateLayout),
		Jobs:  onDate,
		Slots: slots,
	}
}

// Schedulable lists the jobs offered in "schedule a job" pickers.
func (v *View) Schedulable(jobs []core.Job) []core.Job {
	return SchedulableJobs(jobs, v.cfg.TerminalStatuses)
}

// CanSchedule reports whether j may be given a scheduledAt.
func (v *View) CanSchedule(j core.Job) bool {
	return IsSchedulable(j, v.cfg.TerminalStatuses)
}
