package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdesk/internal/core"
	"jobdesk/internal/jobs"
	"jobdesk/internal/jobs/memory"
	"jobdesk/internal/schedule"
)

func newScheduleService() *ScheduleService {
	store := memory.New([]core.Job{
		{ID: 1, Status: core.StatusPending},
		{ID: 2, Status: core.StatusCompleted},
		{ID: 3, Status: core.StatusPending, ScheduledAt: core.NewScheduledAt("2024-02-14T09:30:00Z")},
		{ID: 4, Status: core.StatusInProgress, ScheduledAt: core.NewScheduledAt("2024-02-14T15:00:00Z")},
	})
	view := schedule.NewView(schedule.ViewConfig{
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) },
	})
	return NewScheduleService(store, view, nil)
}

func TestScheduleService_Month(t *testing.T) {
	svc := newScheduleService()
	selected := time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)

	mv, err := svc.Month(context.Background(), 2024, time.February, selected)
	require.NoError(t, err)

	assert.Equal(t, 2024, mv.Year)
	assert.Equal(t, 2, mv.Month)
	require.Len(t, mv.Weeks, 5)
	require.NotNil(t, mv.Selected)
	assert.Len(t, mv.Selected.Jobs, 2)
	require.Len(t, mv.Schedulable, 1)
	assert.Equal(t, int64(1), mv.Schedulable[0].ID)

	// Feb 14 2024 is a Wednesday in the third row.
	cell := mv.Weeks[2][3]
	require.NotNil(t, cell)
	assert.Equal(t, 2, cell.JobCount)
	assert.True(t, cell.IsSelected)
}

func TestScheduleService_Day(t *testing.T) {
	svc := newScheduleService()

	dv, err := svc.Day(context.Background(), time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2024-02-14", dv.Date)
	assert.Len(t, dv.Jobs, 2)

	byLabel := map[string]int{}
	for _, s := range dv.Slots {
		byLabel[s.Label] = len(s.Jobs)
	}
	assert.Equal(t, 1, byLabel["09:00"])
	assert.Equal(t, 1, byLabel["15:00"])
	assert.Equal(t, 0, byLabel["10:00"])
}

func TestScheduleService_ScheduleJob(t *testing.T) {
	ctx := context.Background()
	svc := newScheduleService()
	at := time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC)

	j, err := svc.ScheduleJob(ctx, 1, at)
	require.NoError(t, err)
	got, ok := j.ScheduledAt.In(time.UTC)
	require.True(t, ok)
	assert.True(t, got.Equal(at))

	_, err = svc.ScheduleJob(ctx, 1, at)
	assert.ErrorIs(t, err, ErrNotSchedulable, "already scheduled")

	_, err = svc.ScheduleJob(ctx, 2, at)
	assert.ErrorIs(t, err, ErrNotSchedulable, "terminal status")

	_, err = svc.ScheduleJob(ctx, 42, at)
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	remaining, err := svc.Schedulable(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
