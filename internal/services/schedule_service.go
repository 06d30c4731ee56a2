package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobdesk/internal/core"
	"jobdesk/internal/jobs"
	"jobdesk/internal/log"
	"jobdesk/internal/schedule"
)

var ErrNotSchedulable = errors.New("job cannot be scheduled")

// ScheduleService feeds job snapshots from storage into the calendar view.
type ScheduleService struct {
	jobs      jobs.JobLister
	scheduler jobs.JobScheduler
	view      *schedule.View
	logger    *log.Logger
}

func NewScheduleService(store jobs.Store, view *schedule.View, logger *log.Logger) *ScheduleService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ScheduleService{
		jobs:      store,
		scheduler: store,
		view:      view,
		logger:    logger.WithComponent(log.ComponentSchedule),
	}
}

func (s *ScheduleService) View() *schedule.View {
	return s.view
}

func (s *ScheduleService) ListJobs(ctx context.Context, statuses ...core.JobStatus) ([]core.Job, error) {
	list, err := s.jobs.ListJobs(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return list, nil
}

func (s *ScheduleService) GetJob(ctx context.Context, id int64) (core.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// Month renders the calendar month. A zero selected date attaches no day.
func (s *ScheduleService) Month(ctx context.Context, year int, month time.Month, selected time.Time) (schedule.MonthView, error) {
	list, err := s.ListJobs(ctx)
	if err != nil {
		return schedule.MonthView{}, err
	}
	s.logger.DebugContext(ctx, "Rendering month",
		log.FieldYear, year,
		log.FieldMonth, int(month),
		log.FieldOperation, log.OpList)
	anchor := time.Date(year, month, 1, 0, 0, 0, 0, s.view.Location())
	return s.view.Month(anchor, selected, list), nil
}

func (s *ScheduleService) Day(ctx context.Context, date time.Time) (schedule.DayView, error) {
	list, err := s.ListJobs(ctx)
	if err != nil {
		return schedule.DayView{}, err
	}
	day := s.view.Day(date, list)
	s.logger.DebugContext(ctx, "Rendering day",
		log.FieldDate, day.Date,
		log.FieldOperation, log.OpRead)
	return day, nil
}

func (s *ScheduleService) Schedulable(ctx context.Context) ([]core.Job, error) {
	list, err := s.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	return s.view.Schedulable(list), nil
}

// ScheduleJob assigns at to a job that is still schedulable.
func (s *ScheduleService) ScheduleJob(ctx context.Context, id int64, at time.Time) (core.Job, error) {
	j, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return core.Job{}, err
	}
	if !s.view.CanSchedule(j) {
		return core.Job{}, fmt.Errorf("job %d (status %s): %w", id, j.Status, ErrNotSchedulable)
	}

	updated, err := s.scheduler.ScheduleJob(ctx, id, at)
	if err != nil {
		return core.Job{}, fmt.Errorf("schedule job %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "Job scheduled",
		log.FieldJobID, id,
		log.FieldScheduledAt, updated.ScheduledAt.Raw(),
		log.FieldOperation, log.OpSchedule)
	return updated, nil
}
