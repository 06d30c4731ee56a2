package worker

import (
	"context"
	"errors"
	"fmt"

	"jobdesk/internal/amqp"
	"jobdesk/internal/core"
	"jobdesk/internal/jobs"
	"jobdesk/internal/log"
)

// InvoiceExporter writes a committed invoice to an external ledger.
type InvoiceExporter interface {
	AppendInvoice(ctx context.Context, job core.Job, inv core.Invoice) error
}

// InvoiceWorker applies invoice committed events: paid invoices close the
// job, and every invoice is exported when an exporter is configured.
type InvoiceWorker struct {
	jobs     jobs.JobLister
	invoices jobs.InvoiceReader
	statuses jobs.JobStatusWriter
	exporter InvoiceExporter
	logger   *log.Logger
}

// NewInvoiceWorker wires the worker; exporter may be nil.
func NewInvoiceWorker(store jobs.Store, exporter InvoiceExporter, logger *log.Logger) *InvoiceWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &InvoiceWorker{
		jobs:     store,
		invoices: store,
		statuses: store,
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleInvoiceCommitted processes one event. Returning an error requeues it.
func (w *InvoiceWorker) HandleInvoiceCommitted(ctx context.Context, msg *amqp.InvoiceCommittedMessage) error {
	w.logger.InfoContext(ctx, "Processing invoice committed message",
		log.FieldJobID, msg.JobID,
		log.FieldTotalCents, msg.PriceCents,
		log.FieldPaid, msg.Paid)

	inv, err := w.invoices.GetInvoice(ctx, msg.JobID)
	if errors.Is(err, jobs.ErrNotFound) {
		w.logger.WarnContext(ctx, "Invoice not found, dropping message", log.FieldJobID, msg.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get invoice: %w", err)
	}

	job, err := w.jobs.GetJob(ctx, msg.JobID)
	if errors.Is(err, jobs.ErrNotFound) {
		w.logger.WarnContext(ctx, "Job not found, dropping message", log.FieldJobID, msg.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	if inv.Paid && job.Status != core.StatusPaid {
		if err := w.statuses.SetJobStatus(ctx, job.ID, core.StatusPaid); err != nil {
			return fmt.Errorf("mark job paid: %w", err)
		}
		w.logger.InfoContext(ctx, "Job marked as paid",
			log.FieldJobID, job.ID,
			log.FieldJobStatus, core.StatusPaid,
			log.FieldOperation, log.OpUpdate)
		job.Status = core.StatusPaid
	}

	if w.exporter == nil {
		return nil
	}
	if err := w.exporter.AppendInvoice(ctx, job, inv); err != nil {
		return fmt.Errorf("export invoice: %w", err)
	}
	w.logger.InfoContext(ctx, "Invoice exported",
		log.FieldJobID, job.ID,
		log.FieldOperation, log.OpExport)

	return nil
}
