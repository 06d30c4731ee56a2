package jobs

import (
	"context"
	"errors"
	"time"

	"jobdesk/internal/core"
)

var (
	ErrNotFound = errors.New("not found")
)

// Ports for outbound adapters.
type (
	// JobLister returns snapshots of the job list.
	JobLister interface {
		// ListJobs returns all jobs, filtered by status when statuses is non-empty.
		ListJobs(ctx context.Context, statuses ...core.JobStatus) ([]core.Job, error)
		GetJob(ctx context.Context, id int64) (core.Job, error)
	}

	JobScheduler interface {
		// ScheduleJob sets a job's scheduledAt and returns the updated job.
		ScheduleJob(ctx context.Context, id int64, at time.Time) (core.Job, error)
	}

	JobStatusWriter interface {
		SetJobStatus(ctx context.Context, id int64, status core.JobStatus) error
	}

	InvoiceReader interface {
		// GetInvoice returns ErrNotFound when the job has no invoice yet.
		GetInvoice(ctx context.Context, jobID int64) (core.Invoice, error)
	}

	// InvoiceWriter persists a submission, replacing any earlier invoice
	// for the job, and returns the canonical record.
	InvoiceWriter interface {
		SaveInvoice(ctx context.Context, jobID int64, sub core.InvoiceSubmission) (core.Invoice, error)
	}

	// InvoiceOutbox holds the committed-invoice events that SaveInvoice
	// records together with the invoice itself.
	InvoiceOutbox interface {
		// PendingInvoiceEvents returns up to limit undelivered events, oldest first.
		PendingInvoiceEvents(ctx context.Context, limit int) ([]InvoiceEvent, error)
		MarkInvoiceEventDone(ctx context.Context, id int64) error
		// RetryInvoiceEvent counts a failed attempt and leaves the event pending.
		RetryInvoiceEvent(ctx context.Context, id int64, lastErr string) error
		MarkInvoiceEventFailed(ctx context.Context, id int64, lastErr string) error
		// CleanupInvoiceEvents drops delivered events older than before.
		CleanupInvoiceEvents(ctx context.Context, before time.Time) error
		RetryFailedInvoiceEvents(ctx context.Context) error
		InvoiceEventStats(ctx context.Context) (InvoiceEventStats, error)
	}

	// Store is everything a backend provides.
	Store interface {
		JobLister
		JobScheduler
		JobStatusWriter
		InvoiceReader
		InvoiceWriter
		InvoiceOutbox
	}
)

// Outbox event states.
const (
	EventPending = "pending"
	EventDone    = "done"
	EventFailed  = "failed"
)

// InvoiceEvent announces one saved invoice.
type InvoiceEvent struct {
	ID          int64
	JobID       int64
	PriceCents  int64
	Paid        bool
	ChargeCount int
	Status      string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewInvoiceEvent snapshots inv as a pending event.
func NewInvoiceEvent(inv core.Invoice, at time.Time) InvoiceEvent {
	return InvoiceEvent{
		JobID:       inv.JobID,
		PriceCents:  inv.Price.Cents,
		Paid:        inv.Paid,
		ChargeCount: len(inv.Charges),
		Status:      EventPending,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

type InvoiceEventStats struct {
	Pending int64 `json:"pending"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
}

// MatchesStatus reports whether status is in statuses; an empty filter
// matches everything.
func MatchesStatus(status core.JobStatus, statuses []core.JobStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
