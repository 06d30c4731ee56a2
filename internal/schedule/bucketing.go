// Package schedule groups jobs for calendar display: by calendar date, by
// hour slot, and into a month grid. Every function here is pure and works on
// the snapshot of jobs it is given.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"jobdesk/internal/core"
)

// DefaultTerminalStatuses are the statuses after which a job can no longer
// be scheduled.
var DefaultTerminalStatuses = []core.JobStatus{
	core.StatusCompleted,
	core.StatusCancelled,
	core.StatusPaid,
}

// DefaultTimeSlots covers a working day in hourly steps.
var DefaultTimeSlots = []string{
	"08:00", "09:00", "10:00", "11:00", "12:00", "13:00", "14:00",
	"15:00", "16:00", "17:00", "18:00", "19:00", "20:00",
}

type dateKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dateKey {
	y, m, d := t.Date()
	return dateKey{year: y, month: m, day: d}
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// JobsOnDate returns the jobs whose scheduledAt, read in loc, falls on the
// calendar date of target, also read in loc.
// Unscheduled and malformed jobs are excluded; input order is preserved.
func JobsOnDate(jobs []core.Job, target time.Time, loc *time.Location) []core.Job {
	loc = orLocal(loc)
	want := keyOf(target.In(loc))
	out := make([]core.Job, 0)
	for _, j := range jobs {
		at, ok := j.ScheduledAt.In(loc)
		if !ok {
			continue
		}
		if keyOf(at) == want {
			out = append(out, j)
		}
	}
	return out
}

// JobsByHourSlot assigns each scheduled job to the slot whose hour matches
// the job's hour in loc. Slot labels are "HH:MM" (or "HH"); when two labels
// share an hour the first one wins. Jobs outside every slot are dropped.
// Every valid label is present in the result, possibly with no jobs.
func JobsByHourSlot(jobs []core.Job, slots []string, loc *time.Location) map[string][]core.Job {
	loc = orLocal(loc)
	out := make(map[string][]core.Job, len(slots))
	byHour := make(map[int]string, len(slots))
	for _, label := range slots {
		hour, ok := SlotHour(label)
		if !ok {
			continue
		}
		if _, exists := out[label]; !exists {
			out[label] = []core.Job{}
		}
		if _, taken := byHour[hour]; !taken {
			byHour[hour] = label
		}
	}
	for _, j := range jobs {
		at, ok := j.ScheduledAt.In(loc)
		if !ok {
			continue
		}
		label, ok := byHour[at.Hour()]
		if !ok {
			continue
		}
		out[label] = append(out[label], j)
	}
	return out
}

// SlotHour extracts the hour from a slot label such as "09:00".
func SlotHour(label string) (int, bool) {
	label = strings.TrimSpace(label)
	hourPart, minutePart, hasMinutes := strings.Cut(label, ":")
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	if hasMinutes {
		minute, err := strconv.Atoi(minutePart)
		if err != nil || minute < 0 || minute > 59 {
			return 0, false
		}
	}
	return hour, true
}

// SchedulableJobs returns the jobs that have no scheduledAt and whose status
// is not in terminal. A malformed scheduledAt still counts as scheduled.
func SchedulableJobs(jobs []core.Job, terminal []core.JobStatus) []core.Job {
	out := make([]core.Job, 0)
	for _, j := range jobs {
		if j.IsScheduled() || isTerminal(j.Status, terminal) {
			continue
		}
		out = append(out, j)
	}
	return out
}

// IsSchedulable applies the SchedulableJobs rule to a single job.
func IsSchedulable(j core.Job, terminal []core.JobStatus) bool {
	return !j.IsScheduled() && !isTerminal(j.Status, terminal)
}

func isTerminal(s core.JobStatus, terminal []core.JobStatus) bool {
	for _, t := range terminal {
		if s == t {
			return true
		}
	}
	return false
}
