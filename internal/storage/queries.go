package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Job struct {
	ID          int64
	Description string
	Status      string
	PriceCents  int64
	ScheduledAt sql.NullString
	Client      string
	Address     string
	UpdatedAt   string
}

type Invoice struct {
	JobID      int64
	PriceCents int64
	Paid       bool
	UpdatedAt  string
}

type InvoiceCharge struct {
	JobID       int64
	ID          string
	Position    int64
	Description string
	AmountCents int64
}

const jobColumns = `id, description, status, price_cents, scheduled_at, client, address, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.Description,
		&j.Status,
		&j.PriceCents,
		&j.ScheduledAt,
		&j.Client,
		&j.Address,
		&j.UpdatedAt,
	)
	return j, err
}

const listJobs = `SELECT ` + jobColumns + ` FROM jobs ORDER BY id`

func (q *Queries) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, listJobs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, j)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getJob = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

func (q *Queries) GetJob(ctx context.Context, id int64) (Job, error) {
	return scanJob(q.db.QueryRowContext(ctx, getJob, id))
}

const countJobs = `SELECT COUNT(*) FROM jobs`

func (q *Queries) CountJobs(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countJobs).Scan(&n)
	return n, err
}

const upsertJob = `INSERT INTO jobs (id, description, status, price_cents, scheduled_at, client, address, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    description = excluded.description,
    status = excluded.status,
    price_cents = excluded.price_cents,
    scheduled_at = excluded.scheduled_at,
    client = excluded.client,
    address = excluded.address,
    updated_at = excluded.updated_at`

type UpsertJobParams struct {
	ID          int64
	Description string
	Status      string
	PriceCents  int64
	ScheduledAt sql.NullString
	Client      string
	Address     string
	UpdatedAt   string
}

func (q *Queries) UpsertJob(ctx context.Context, arg UpsertJobParams) error {
	_, err := q.db.ExecContext(ctx, upsertJob,
		arg.ID,
		arg.Description,
		arg.Status,
		arg.PriceCents,
		arg.ScheduledAt,
		arg.Client,
		arg.Address,
		arg.UpdatedAt,
	)
	return err
}

const updateJobSchedule = `UPDATE jobs SET scheduled_at = ?, updated_at = ? WHERE id = ?`

func (q *Queries) UpdateJobSchedule(ctx context.Context, id int64, scheduledAt, updatedAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateJobSchedule, scheduledAt, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updateJobStatus = `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`

func (q *Queries) UpdateJobStatus(ctx context.Context, id int64, status, updatedAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateJobStatus, status, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getInvoice = `SELECT job_id, price_cents, paid, updated_at FROM invoices WHERE job_id = ?`

func (q *Queries) GetInvoice(ctx context.Context, jobID int64) (Invoice, error) {
	var i Invoice
	err := q.db.QueryRowContext(ctx, getInvoice, jobID).Scan(
		&i.JobID,
		&i.PriceCents,
		&i.Paid,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertInvoice = `INSERT INTO invoices (job_id, price_cents, paid, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (job_id) DO UPDATE SET
    price_cents = excluded.price_cents,
    paid = excluded.paid,
    updated_at = excluded.updated_at`

func (q *Queries) UpsertInvoice(ctx context.Context, arg Invoice) error {
	_, err := q.db.ExecContext(ctx, upsertInvoice, arg.JobID, arg.PriceCents, arg.Paid, arg.UpdatedAt)
	return err
}

const listInvoiceCharges = `SELECT job_id, id, position, description, amount_cents
FROM invoice_charges WHERE job_id = ? ORDER BY position`

func (q *Queries) ListInvoiceCharges(ctx context.Context, jobID int64) ([]InvoiceCharge, error) {
	rows, err := q.db.QueryContext(ctx, listInvoiceCharges, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InvoiceCharge
	for rows.Next() {
		var c InvoiceCharge
		if err := rows.Scan(
			&c.JobID,
			&c.ID,
			&c.Position,
			&c.Description,
			&c.AmountCents,
		); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteInvoiceCharges = `DELETE FROM invoice_charges WHERE job_id = ?`

func (q *Queries) DeleteInvoiceCharges(ctx context.Context, jobID int64) error {
	_, err := q.db.ExecContext(ctx, deleteInvoiceCharges, jobID)
	return err
}

const insertInvoiceCharge = `INSERT INTO invoice_charges (job_id, id, position, description, amount_cents)
VALUES (?, ?, ?, ?, ?)`

func (q *Queries) InsertInvoiceCharge(ctx context.Context, arg InvoiceCharge) error {
	_, err := q.db.ExecContext(ctx, insertInvoiceCharge,
		arg.JobID,
		arg.ID,
		arg.Position,
		arg.Description,
		arg.AmountCents,
	)
	return err
}

type InvoiceEvent struct {
	ID          int64
	JobID       int64
	PriceCents  int64
	Paid        bool
	ChargeCount int64
	Status      string
	Attempts    int64
	LastError   string
	CreatedAt   string
	UpdatedAt   string
}

const insertInvoiceEvent = `INSERT INTO invoice_events (job_id, price_cents, paid, charge_count, status, created_at, updated_at)
VALUES (?, ?, ?, ?, 'pending', ?, ?)`

func (q *Queries) InsertInvoiceEvent(ctx context.Context, arg InvoiceEvent) error {
	_, err := q.db.ExecContext(ctx, insertInvoiceEvent,
		arg.JobID,
		arg.PriceCents,
		arg.Paid,
		arg.ChargeCount,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const listPendingInvoiceEvents = `SELECT id, job_id, price_cents, paid, charge_count, status, attempts, last_error, created_at, updated_at
FROM invoice_events WHERE status = 'pending' ORDER BY id LIMIT ?`

func (q *Queries) ListPendingInvoiceEvents(ctx context.Context, limit int64) ([]InvoiceEvent, error) {
	rows, err := q.db.QueryContext(ctx, listPendingInvoiceEvents, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InvoiceEvent
	for rows.Next() {
		var e InvoiceEvent
		if err := rows.Scan(
			&e.ID,
			&e.JobID,
			&e.PriceCents,
			&e.Paid,
			&e.ChargeCount,
			&e.Status,
			&e.Attempts,
			&e.LastError,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markInvoiceEventDone = `UPDATE invoice_events SET status = 'done', updated_at = ? WHERE id = ?`

func (q *Queries) MarkInvoiceEventDone(ctx context.Context, id int64, updatedAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markInvoiceEventDone, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const incrementInvoiceEventAttempt = `UPDATE invoice_events
SET attempts = attempts + 1, last_error = ?, status = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) IncrementInvoiceEventAttempt(ctx context.Context, id int64, lastErr, status, updatedAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx, incrementInvoiceEventAttempt, lastErr, status, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const retryFailedInvoiceEvents = `UPDATE invoice_events SET status = 'pending', attempts = 0, updated_at = ? WHERE status = 'failed'`

func (q *Queries) RetryFailedInvoiceEvents(ctx context.Context, updatedAt string) error {
	_, err := q.db.ExecContext(ctx, retryFailedInvoiceEvents, updatedAt)
	return err
}

const deleteDoneInvoiceEvents = `DELETE FROM invoice_events WHERE status = 'done' AND updated_at < ?`

func (q *Queries) DeleteDoneInvoiceEvents(ctx context.Context, before string) error {
	_, err := q.db.ExecContext(ctx, deleteDoneInvoiceEvents, before)
	return err
}

const invoiceEventStats = `SELECT
    COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
FROM invoice_events`

type InvoiceEventStatsRow struct {
	Pending int64
	Done    int64
	Failed  int64
}

func (q *Queries) InvoiceEventStats(ctx context.Context) (InvoiceEventStatsRow, error) {
	var s InvoiceEventStatsRow
	err := q.db.QueryRowContext(ctx, invoiceEventStats).Scan(&s.Pending, &s.Done, &s.Failed)
	return s, err
}
