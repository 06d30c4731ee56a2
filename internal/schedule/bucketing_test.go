package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdesk/internal/core"
)

func job(id int64, status core.JobStatus, scheduledAt string) core.Job {
	return core.Job{
		ID:          id,
		Description: "job",
		Status:      status,
		ScheduledAt: core.NewScheduledAt(scheduledAt),
	}
}

func ids(jobs []core.Job) []int64 {
	out := make([]int64, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestJobsOnDate(t *testing.T) {
	jobs := []core.Job{
		job(1, core.StatusPending, "2024-06-10T09:30"),
		job(2, core.StatusPending, "2024-06-10T14:00"),
		job(3, core.StatusPending, ""),
	}
	target := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	got := JobsOnDate(jobs, target, time.UTC)
	assert.Equal(t, []int64{1, 2}, ids(got))
}

func TestJobsOnDate_IgnoresTimeOfDayAndKeepsOrder(t *testing.T) {
	jobs := []core.Job{
		job(5, core.StatusPending, "2024-06-10T23:59:59"),
		job(4, core.StatusPending, "2024-06-11T00:00"),
		job(3, core.StatusPending, "2024-06-10T00:00"),
		job(2, core.StatusPending, "garbage"),
	}
	target := time.Date(2024, 6, 10, 17, 45, 0, 0, time.UTC)

	got := JobsOnDate(jobs, target, time.UTC)
	assert.Equal(t, []int64{5, 3}, ids(got))
}

func TestJobsOnDate_ConvertsToLocation(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 23:30 UTC on the 10th is already the 11th in Rome.
	jobs := []core.Job{job(1, core.StatusPending, "2024-06-10T23:30:00Z")}

	assert.Empty(t, JobsOnDate(jobs, time.Date(2024, 6, 10, 0, 0, 0, 0, rome), rome))
	assert.Len(t, JobsOnDate(jobs, time.Date(2024, 6, 11, 0, 0, 0, 0, rome), rome), 1)
}

func TestJobsOnDate_TargetReadInLocation(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	jobs := []core.Job{job(1, core.StatusPending, "2024-06-11T09:00")}

	// 23:30 UTC on the 10th is the 11th in Rome.
	target := time.Date(2024, 6, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, []int64{1}, ids(JobsOnDate(jobs, target, rome)))
}

func TestJobsOnDate_EmptyInput(t *testing.T) {
	got := JobsOnDate(nil, time.Now(), nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestJobsOnDate_DoesNotMutateInput(t *testing.T) {
	jobs := []core.Job{
		job(1, core.StatusPending, "2024-06-11T09:00"),
		job(2, core.StatusPending, "2024-06-10T09:00"),
	}
	before := append([]core.Job(nil), jobs...)
	_ = JobsOnDate(jobs, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, before, jobs)
}

func TestJobsByHourSlot(t *testing.T) {
	jobs := []core.Job{
		job(1, core.StatusPending, "2024-06-10T09:30"),
		job(2, core.StatusPending, "2024-06-10T14:00"),
		job(3, core.StatusPending, "2024-06-10T09:05"),
		job(4, core.StatusPending, "2024-06-10T23:00"), // outside slots
		job(5, core.StatusPending, ""),
		job(6, core.StatusPending, "bad"),
	}
	slots := []string{"08:00", "09:00", "14:00", "20:00"}

	got := JobsByHourSlot(jobs, slots, time.UTC)

	require.Len(t, got, 4)
	assert.Equal(t, []int64{1, 3}, ids(got["09:00"]))
	assert.Equal(t, []int64{2}, ids(got["14:00"]))
	assert.Empty(t, got["08:00"])
	assert.Empty(t, got["20:00"])
}

func TestJobsByHourSlot_FirstLabelWinsAndInvalidLabelsSkipped(t *testing.T) {
	jobs := []core.Job{job(1, core.StatusPending, "2024-06-10T09:45")}
	got := JobsByHourSlot(jobs, []string{"nine", "09:00", "09:30", "25:00"}, time.UTC)

	assert.NotContains(t, got, "nine")
	assert.NotContains(t, got, "25:00")
	assert.Equal(t, []int64{1}, ids(got["09:00"]))
	assert.Empty(t, got["09:30"])
}

func TestSlotHour(t *testing.T) {
	cases := []struct {
		label string
		hour  int
		ok    bool
	}{
		{"09:00", 9, true},
		{"9:00", 9, true},
		{"17", 17, true},
		{" 00:00 ", 0, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"", 0, false},
		{"noon", 0, false},
	}
	for _, tc := range cases {
		hour, ok := SlotHour(tc.label)
		assert.Equal(t, tc.ok, ok, tc.label)
		if tc.ok {
			assert.Equal(t, tc.hour, hour, tc.label)
		}
	}
}

func TestSchedulableJobs(t *testing.T) {
	jobs := []core.Job{
		job(1, core.StatusPending, ""),
		job(2, core.StatusInProgress, ""),
		job(3, core.StatusCompleted, ""),
		job(4, core.StatusCancelled, ""),
		job(5, core.StatusPaid, ""),
		job(6, core.StatusPending, "2024-06-10T09:00"),
		job(7, core.StatusPending, "not-a-date"),
		job(8, core.JobStatus("on_hold"), ""),
	}

	got := SchedulableJobs(jobs, DefaultTerminalStatuses)
	assert.Equal(t, []int64{1, 2, 8}, ids(got))

	// Terminal set is configurable.
	got = SchedulableJobs(jobs, []core.JobStatus{"on_hold"})
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(got))
}
