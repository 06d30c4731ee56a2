package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jobdesk/internal/cache"
	"jobdesk/internal/core"
	"jobdesk/internal/invoice"
	"jobdesk/internal/jobs"
	"jobdesk/internal/log"
)

// ErrSubmitFailed tags errors returned by the invoice backend during a
// submission, as opposed to errors the session raises on its own.
var ErrSubmitFailed = errors.New("invoice submission failed")

// InvoiceEventNotifier is told that a submission recorded a new invoice
// event in the store's outbox.
type InvoiceEventNotifier interface {
	Notify()
}

type InvoiceServiceConfig struct {
	SessionTTL time.Duration
	CacheSize  int
	// IDGenerator overrides charge id generation; nil uses uuids.
	IDGenerator invoice.IDGenerator
}

func DefaultInvoiceServiceConfig() InvoiceServiceConfig {
	return InvoiceServiceConfig{
		SessionTTL: 30 * time.Minute,
		CacheSize:  1000,
	}
}

type sessionEntry struct {
	mu      sync.Mutex
	session *invoice.Session
}

// InvoiceService owns one edit session per job and turns each into a single
// invoice submission.
type InvoiceService struct {
	jobs      jobs.JobLister
	reader    jobs.InvoiceReader
	writer    jobs.InvoiceWriter
	notifier  InvoiceEventNotifier
	logger    *log.Logger
	events    *log.StructuredLogger
	opts      []invoice.Option

	mu       sync.Mutex
	sessions *cache.LRUCache[int64, *sessionEntry]
}

// NewInvoiceService wires the service. notifier may be nil; committed
// invoice events then wait in the outbox for the next poll.
func NewInvoiceService(store jobs.Store, notifier InvoiceEventNotifier, logger *log.Logger, cfg InvoiceServiceConfig) *InvoiceService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultInvoiceServiceConfig().SessionTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultInvoiceServiceConfig().CacheSize
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentInvoice)

	var opts []invoice.Option
	if cfg.IDGenerator != nil {
		opts = append(opts, invoice.WithIDGenerator(cfg.IDGenerator))
	}

	s := &InvoiceService{
		jobs:      store,
		reader:    store,
		writer:    store,
		notifier:  notifier,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
		opts:      opts,
		sessions:  cache.NewLRUCache[int64, *sessionEntry](cfg.CacheSize, cfg.SessionTTL),
	}
	s.sessions.OnEvict(func(jobID int64, e *sessionEntry) {
		s.logger.Debug("Invoice session evicted", log.FieldJobID, jobID)
	})
	return s
}

// Sessions exposes the session cache so it can be registered for cleanup.
func (s *InvoiceService) Sessions() cache.Cleaner {
	return s.sessions
}

// Open returns the job's current session, starting one from the canonical
// invoice when none is cached.
func (s *InvoiceService) Open(ctx context.Context, jobID int64) (invoice.Snapshot, error) {
	var snap invoice.Snapshot
	err := s.withSession(ctx, jobID, func(sess *invoice.Session) error {
		snap = sess.Snapshot()
		return nil
	})
	return snap, err
}

// AddCharge appends a charge to the job's session.
func (s *InvoiceService) AddCharge(ctx context.Context, jobID int64, description, amount string) (core.ChargeLineItem, invoice.Snapshot, error) {
	var (
		item core.ChargeLineItem
		snap invoice.Snapshot
	)
	err := s.withSession(ctx, jobID, func(sess *invoice.Session) error {
		var err error
		item, err = sess.AddCharge(description, amount)
		if err != nil {
			return err
		}
		snap = sess.Snapshot()
		return nil
	})
	if err != nil {
		return core.ChargeLineItem{}, invoice.Snapshot{}, err
	}

	s.events.LogChargeAdded(ctx, jobID, item.ID, item.Amount.Cents, snap.Total.Cents)
	return item, snap, nil
}

// RemoveCharge drops a charge from the job's session; unknown ids are ignored.
func (s *InvoiceService) RemoveCharge(ctx context.Context, jobID int64, chargeID string) (invoice.Snapshot, error) {
	var (
		snap    invoice.Snapshot
		removed core.ChargeLineItem
		found   bool
	)
	err := s.withSession(ctx, jobID, func(sess *invoice.Session) error {
		removed, found = sess.Ledger().Find(chargeID)
		if err := sess.RemoveCharge(chargeID); err != nil {
			return err
		}
		snap = sess.Snapshot()
		return nil
	})
	if err != nil {
		return invoice.Snapshot{}, err
	}

	if found {
		s.logger.InfoContext(ctx, "Charge removed",
			log.FieldJobID, jobID,
			log.FieldChargeID, chargeID,
			log.FieldAmountCents, removed.Amount.Cents,
			log.FieldTotalCents, snap.Total.Cents,
			log.FieldOperation, log.OpDelete)
	}
	return snap, nil
}

func (s *InvoiceService) SetPaid(ctx context.Context, jobID int64, paid bool) (invoice.Snapshot, error) {
	var snap invoice.Snapshot
	err := s.withSession(ctx, jobID, func(sess *invoice.Session) error {
		if err := sess.SetPaid(paid); err != nil {
			return err
		}
		snap = sess.Snapshot()
		return nil
	})
	if err != nil {
		return invoice.Snapshot{}, err
	}

	s.logger.DebugContext(ctx, "Invoice paid flag set",
		log.FieldJobID, jobID,
		log.FieldPaid, paid,
		log.FieldOperation, log.OpUpdate)
	return snap, nil
}

// Discard drops the job's session without submitting it.
func (s *InvoiceService) Discard(jobID int64) {
	s.sessions.Delete(jobID)
}

// Submit sends the session's ledger to storage once. A committed session is
// evicted so the next Open starts from the stored invoice. The store records
// the committed event in the same write; delivery is left to the outbox
// processor.
func (s *InvoiceService) Submit(ctx context.Context, jobID int64) (core.Invoice, error) {
	var inv core.Invoice
	err := s.withSession(ctx, jobID, func(sess *invoice.Session) error {
		var err error
		inv, err = sess.Submit(ctx, invoice.SubmitterFunc(s.save))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrSubmitFailed) {
			s.events.LogError(ctx, "Invoice submission failed", err,
				log.ComponentInvoice, log.OpSubmit, log.NewFields().WithJob(jobID))
		}
		return core.Invoice{}, err
	}

	s.sessions.Delete(jobID)
	s.events.LogInvoiceSubmitted(ctx, jobID, inv.Total().Cents, len(inv.Charges), inv.Paid)
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return inv, nil
}

func (s *InvoiceService) save(ctx context.Context, jobID int64, sub core.InvoiceSubmission) (core.Invoice, error) {
	inv, err := s.writer.SaveInvoice(ctx, jobID, sub)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	return inv, nil
}

// withSession runs fn with the job's session locked. The session's TTL is
// refreshed afterwards.
func (s *InvoiceService) withSession(ctx context.Context, jobID int64, fn func(*invoice.Session) error) error {
	entry, err := s.entry(ctx, jobID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	err = fn(entry.session)
	if entry.session.State() != invoice.StateCommitted {
		s.touch(jobID, entry)
	}
	return err
}

// touch restarts the TTL of entry if it is still the cached session for the
// job. A session discarded or replaced meanwhile stays gone.
func (s *InvoiceService) touch(jobID int64, entry *sessionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions.Get(jobID); !ok || cur != entry {
		return
	}
	s.sessions.Set(jobID, entry)
}

func (s *InvoiceService) entry(ctx context.Context, jobID int64) (*sessionEntry, error) {
	s.mu.Lock()
	if e, ok := s.sessions.Get(jobID); ok {
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	var sess *invoice.Session
	inv, err := s.reader.GetInvoice(ctx, jobID)
	switch {
	case err == nil:
		sess = invoice.ResumeSession(inv, s.opts...)
	case errors.Is(err, jobs.ErrNotFound):
		sess = invoice.NewSession(jobID, s.opts...)
	default:
		return nil, fmt.Errorf("load invoice for job %d: %w", jobID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions.Get(jobID); ok {
		return e, nil
	}
	e := &sessionEntry{session: sess}
	s.sessions.Set(jobID, e)
	s.logger.DebugContext(ctx, "Invoice session opened",
		log.FieldJobID, jobID,
		log.FieldSessionState, sess.State().String(),
		log.FieldChargeCount, len(sess.Ledger().Items()),
		log.FieldOperation, log.OpCreate)
	return e, nil
}
