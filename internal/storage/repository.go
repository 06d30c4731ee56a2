package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"jobdesk/internal/core"
	"jobdesk/internal/jobs"

	_ "modernc.org/sqlite"
)

const timestampLayout = time.RFC3339Nano

// eventStampLayout is fixed width so outbox stamps compare as text.
const eventStampLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

var _ jobs.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SeedJobs inserts seed jobs when the jobs table is empty. It reports how
// many jobs were written.
func (r *SQLiteRepository) SeedJobs(ctx context.Context, seed []core.Job) (int, error) {
	n, err := r.queries.CountJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	if n > 0 || len(seed) == 0 {
		return 0, nil
	}

	err = r.withTx(ctx, func(q *Queries) error {
		stamp := r.stamp()
		for _, j := range seed {
			if err := q.UpsertJob(ctx, UpsertJobParams{
				ID:          j.ID,
				Description: j.Description,
				Status:      string(j.Status),
				PriceCents:  j.Price.Cents,
				ScheduledAt: nullString(j.ScheduledAt.Raw()),
				Client:      j.Client,
				Address:     j.Address,
				UpdatedAt:   stamp,
			}); err != nil {
				return fmt.Errorf("insert job %d: %w", j.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Seeded jobs into SQLite", "count", len(seed))
	return len(seed), nil
}

// ListJobs implements jobs.JobLister
func (r *SQLiteRepository) ListJobs(ctx context.Context, statuses ...core.JobStatus) ([]core.Job, error) {
	rows, err := r.queries.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]core.Job, 0, len(rows))
	for _, row := range rows {
		j := toCoreJob(row)
		if jobs.MatchesStatus(j.Status, statuses) {
			out = append(out, j)
		}
	}
	return out, nil
}

// GetJob implements jobs.JobLister
func (r *SQLiteRepository) GetJob(ctx context.Context, id int64) (core.Job, error) {
	row, err := r.queries.GetJob(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Job{}, fmt.Errorf("job %d: %w", id, jobs.ErrNotFound)
	}
	if err != nil {
		return core.Job{}, fmt.Errorf("get job %d: %w", id, err)
	}
	return toCoreJob(row), nil
}

// ScheduleJob implements jobs.JobScheduler
func (r *SQLiteRepository) ScheduleJob(ctx context.Context, id int64, at time.Time) (core.Job, error) {
	raw := core.ScheduledAtTime(at).Raw()
	n, err := r.queries.UpdateJobSchedule(ctx, id, raw, r.stamp())
	if err != nil {
		return core.Job{}, fmt.Errorf("schedule job %d: %w", id, err)
	}
	if n == 0 {
		return core.Job{}, fmt.Errorf("job %d: %w", id, jobs.ErrNotFound)
	}

	slog.InfoContext(ctx, "Job scheduled", "job_id", id, "scheduled_at", raw)
	return r.GetJob(ctx, id)
}

// SetJobStatus implements jobs.JobStatusWriter
func (r *SQLiteRepository) SetJobStatus(ctx context.Context, id int64, status core.JobStatus) error {
	n, err := r.queries.UpdateJobStatus(ctx, id, string(status), r.stamp())
	if err != nil {
		return fmt.Errorf("set job %d status: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", id, jobs.ErrNotFound)
	}
	return nil
}

// GetInvoice implements jobs.InvoiceReader
func (r *SQLiteRepository) GetInvoice(ctx context.Context, jobID int64) (core.Invoice, error) {
	row, err := r.queries.GetInvoice(ctx, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Invoice{}, fmt.Errorf("invoice for job %d: %w", jobID, jobs.ErrNotFound)
	}
	if err != nil {
		return core.Invoice{}, fmt.Errorf("get invoice for job %d: %w", jobID, err)
	}

	charges, err := r.queries.ListInvoiceCharges(ctx, jobID)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("list charges for job %d: %w", jobID, err)
	}

	return toCoreInvoice(row, charges), nil
}

// SaveInvoice implements jobs.InvoiceWriter. The invoice row and its charges
// are replaced, and a pending invoice event recorded, in a single transaction.
func (r *SQLiteRepository) SaveInvoice(ctx context.Context, jobID int64, sub core.InvoiceSubmission) (core.Invoice, error) {
	if err := sub.Validate(); err != nil {
		return core.Invoice{}, err
	}

	stamp := r.stamp()
	err := r.withTx(ctx, func(q *Queries) error {
		if _, err := q.GetJob(ctx, jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("job %d: %w", jobID, jobs.ErrNotFound)
			}
			return fmt.Errorf("get job %d: %w", jobID, err)
		}
		if err := q.UpsertInvoice(ctx, Invoice{
			JobID:      jobID,
			PriceCents: sub.Price.Cents,
			Paid:       sub.Paid,
			UpdatedAt:  stamp,
		}); err != nil {
			return fmt.Errorf("upsert invoice: %w", err)
		}
		if err := q.DeleteInvoiceCharges(ctx, jobID); err != nil {
			return fmt.Errorf("delete charges: %w", err)
		}
		for i, c := range sub.Charges {
			if err := q.InsertInvoiceCharge(ctx, InvoiceCharge{
				JobID:       jobID,
				ID:          c.ID,
				Position:    int64(i),
				Description: c.Description,
				AmountCents: c.Amount.Cents,
			}); err != nil {
				return fmt.Errorf("insert charge %s: %w", c.ID, err)
			}
		}
		eventStamp := r.eventStamp()
		if err := q.InsertInvoiceEvent(ctx, InvoiceEvent{
			JobID:       jobID,
			PriceCents:  sub.Price.Cents,
			Paid:        sub.Paid,
			ChargeCount: int64(len(sub.Charges)),
			CreatedAt:   eventStamp,
			UpdatedAt:   eventStamp,
		}); err != nil {
			return fmt.Errorf("record invoice event: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Invoice{}, err
	}

	slog.InfoContext(ctx, "Invoice saved to SQLite",
		"job_id", jobID,
		"price_cents", sub.Price.Cents,
		"paid", sub.Paid,
		"charges", len(sub.Charges))

	return r.GetInvoice(ctx, jobID)
}

// PendingInvoiceEvents implements jobs.InvoiceOutbox
func (r *SQLiteRepository) PendingInvoiceEvents(ctx context.Context, limit int) ([]jobs.InvoiceEvent, error) {
	rows, err := r.queries.ListPendingInvoiceEvents(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending invoice events: %w", err)
	}
	out := make([]jobs.InvoiceEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, toInvoiceEvent(row))
	}
	return out, nil
}

// MarkInvoiceEventDone implements jobs.InvoiceOutbox
func (r *SQLiteRepository) MarkInvoiceEventDone(ctx context.Context, id int64) error {
	n, err := r.queries.MarkInvoiceEventDone(ctx, id, r.eventStamp())
	if err != nil {
		return fmt.Errorf("mark invoice event %d done: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("invoice event %d: %w", id, jobs.ErrNotFound)
	}
	return nil
}

// RetryInvoiceEvent implements jobs.InvoiceOutbox
func (r *SQLiteRepository) RetryInvoiceEvent(ctx context.Context, id int64, lastErr string) error {
	return r.countAttempt(ctx, id, lastErr, jobs.EventPending)
}

// MarkInvoiceEventFailed implements jobs.InvoiceOutbox
func (r *SQLiteRepository) MarkInvoiceEventFailed(ctx context.Context, id int64, lastErr string) error {
	return r.countAttempt(ctx, id, lastErr, jobs.EventFailed)
}

func (r *SQLiteRepository) countAttempt(ctx context.Context, id int64, lastErr, status string) error {
	n, err := r.queries.IncrementInvoiceEventAttempt(ctx, id, lastErr, status, r.eventStamp())
	if err != nil {
		return fmt.Errorf("update invoice event %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("invoice event %d: %w", id, jobs.ErrNotFound)
	}
	return nil
}

// RetryFailedInvoiceEvents implements jobs.InvoiceOutbox
func (r *SQLiteRepository) RetryFailedInvoiceEvents(ctx context.Context) error {
	if err := r.queries.RetryFailedInvoiceEvents(ctx, r.eventStamp()); err != nil {
		return fmt.Errorf("retry failed invoice events: %w", err)
	}
	return nil
}

// CleanupInvoiceEvents implements jobs.InvoiceOutbox
func (r *SQLiteRepository) CleanupInvoiceEvents(ctx context.Context, before time.Time) error {
	if err := r.queries.DeleteDoneInvoiceEvents(ctx, before.UTC().Format(eventStampLayout)); err != nil {
		return fmt.Errorf("cleanup invoice events: %w", err)
	}
	return nil
}

// InvoiceEventStats implements jobs.InvoiceOutbox
func (r *SQLiteRepository) InvoiceEventStats(ctx context.Context) (jobs.InvoiceEventStats, error) {
	row, err := r.queries.InvoiceEventStats(ctx)
	if err != nil {
		return jobs.InvoiceEventStats{}, fmt.Errorf("invoice event stats: %w", err)
	}
	return jobs.InvoiceEventStats{Pending: row.Pending, Done: row.Done, Failed: row.Failed}, nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) stamp() string {
	return r.now().UTC().Format(timestampLayout)
}

func (r *SQLiteRepository) eventStamp() string {
	return r.now().UTC().Format(eventStampLayout)
}

func toInvoiceEvent(row InvoiceEvent) jobs.InvoiceEvent {
	ev := jobs.InvoiceEvent{
		ID:          row.ID,
		JobID:       row.JobID,
		PriceCents:  row.PriceCents,
		Paid:        row.Paid,
		ChargeCount: int(row.ChargeCount),
		Status:      row.Status,
		Attempts:    int(row.Attempts),
		LastError:   row.LastError,
	}
	if t, err := time.Parse(eventStampLayout, row.CreatedAt); err == nil {
		ev.CreatedAt = t
	}
	if t, err := time.Parse(eventStampLayout, row.UpdatedAt); err == nil {
		ev.UpdatedAt = t
	}
	return ev
}

func toCoreJob(row Job) core.Job {
	return core.Job{
		ID:          row.ID,
		Description: row.Description,
		Status:      core.JobStatus(row.Status),
		Price:       core.Money{Cents: row.PriceCents},
		ScheduledAt: core.NewScheduledAt(row.ScheduledAt.String),
		Client:      row.Client,
		Address:     row.Address,
	}
}

func toCoreInvoice(row Invoice, charges []InvoiceCharge) core.Invoice {
	inv := core.Invoice{
		JobID:   row.JobID,
		Price:   core.Money{Cents: row.PriceCents},
		Paid:    row.Paid,
		Charges: make([]core.ChargeLineItem, 0, len(charges)),
	}
	if t, err := time.Parse(timestampLayout, row.UpdatedAt); err == nil {
		inv.UpdatedAt = t
	}
	for _, c := range charges {
		inv.Charges = append(inv.Charges, core.ChargeLineItem{
			ID:          c.ID,
			Description: c.Description,
			Amount:      core.Money{Cents: c.AmountCents},
		})
	}
	return inv
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
