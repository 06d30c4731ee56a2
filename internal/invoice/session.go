package invoice

import (
	"context"
	"errors"
	"fmt"

	"jobdesk/internal/core"
)

// State is the lifecycle position of an invoice edit session.
type State int

const (
	StateEmpty State = iota
	StateEditing
	StateSubmitting
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateEditing:
		return "editing"
	case StateSubmitting:
		return "submitting"
	case StateCommitted:
		return "committed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrSessionCommitted = errors.New("invoice already committed")
	ErrSubmitInProgress = errors.New("invoice submission in progress")
)

// Submitter persists an invoice submission and returns the canonical record.
type Submitter interface {
	SubmitInvoice(ctx context.Context, jobID int64, sub core.InvoiceSubmission) (core.Invoice, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, jobID int64, sub core.InvoiceSubmission) (core.Invoice, error)

func (f SubmitterFunc) SubmitInvoice(ctx context.Context, jobID int64, sub core.InvoiceSubmission) (core.Invoice, error) {
	return f(ctx, jobID, sub)
}

// Session is one invoice edit for a job. It is not safe for concurrent use.
type Session struct {
	jobID   int64
	state   State
	ledger  Ledger
	paid    bool
	opts    []Option
	invoice *core.Invoice
	lastErr error
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	JobID     int64                 `json:"jobId"`
	State     string                `json:"state"`
	Charges   []core.ChargeLineItem `json:"charges"`
	Total     core.Money            `json:"total"`
	Paid      bool                  `json:"paid"`
	LastError string                `json:"lastError,omitempty"`
}

// NewSession starts an empty session for jobID.
func NewSession(jobID int64, opts ...Option) *Session {
	return &Session{
		jobID:  jobID,
		state:  StateEmpty,
		ledger: NewLedger(opts...),
		opts:   opts,
	}
}

// ResumeSession starts a session from the backend's canonical invoice.
func ResumeSession(inv core.Invoice, opts ...Option) *Session {
	s := NewSession(inv.JobID, opts...)
	s.ledger = FromInvoice(inv, opts...)
	s.paid = inv.Paid
	if s.ledger.Len() > 0 {
		s.state = StateEditing
	}
	return s
}

func (s *Session) JobID() int64 {
	return s.jobID
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Ledger() Ledger {
	return s.ledger
}

func (s *Session) Paid() bool {
	return s.paid
}

// LastError is the error of the most recent failed submission, if any.
func (s *Session) LastError() error {
	return s.lastErr
}

// Invoice returns the canonical invoice once the session is committed.
func (s *Session) Invoice() (core.Invoice, bool) {
	if s.invoice == nil {
		return core.Invoice{}, false
	}
	return *s.invoice, true
}

// AddCharge appends a charge and returns it.
func (s *Session) AddCharge(description, amount string) (core.ChargeLineItem, error) {
	return s.add(func(l Ledger) (Ledger, error) {
		return l.AddCharge(description, amount)
	})
}

// AddChargeCents appends a charge with a typed amount and returns it.
func (s *Session) AddChargeCents(description string, amount core.Money) (core.ChargeLineItem, error) {
	return s.add(func(l Ledger) (Ledger, error) {
		return l.AddChargeCents(description, amount)
	})
}

func (s *Session) add(apply func(Ledger) (Ledger, error)) (core.ChargeLineItem, error) {
	if err := s.mutable(); err != nil {
		return core.ChargeLineItem{}, err
	}
	next, err := apply(s.ledger)
	if err != nil {
		return core.ChargeLineItem{}, err
	}
	s.ledger = next
	s.state = StateEditing
	items := next.Items()
	return items[len(items)-1], nil
}

// RemoveCharge drops a charge; unknown ids are ignored.
func (s *Session) RemoveCharge(id string) error {
	if err := s.mutable(); err != nil {
		return err
	}
	s.ledger = s.ledger.RemoveCharge(id)
	if s.ledger.Len() == 0 {
		s.state = StateEmpty
	}
	return nil
}

func (s *Session) SetPaid(paid bool) error {
	if err := s.mutable(); err != nil {
		return err
	}
	s.paid = paid
	return nil
}

// Submit hands the ledger to sub exactly once. An empty ledger is refused
// before sub is called. On failure the ledger is kept for a retry; on
// success it is replaced by the canonical invoice and the session is done.
func (s *Session) Submit(ctx context.Context, sub Submitter) (core.Invoice, error) {
	if err := s.mutable(); err != nil {
		return core.Invoice{}, err
	}
	if s.ledger.Len() == 0 {
		return core.Invoice{}, core.ErrNoCharges
	}

	payload := s.ledger.Submission(s.paid)
	s.state = StateSubmitting
	inv, err := sub.SubmitInvoice(ctx, s.jobID, payload)
	if err != nil {
		s.state = StateEditing
		s.lastErr = err
		return core.Invoice{}, fmt.Errorf("submit invoice for job %d: %w", s.jobID, err)
	}

	s.invoice = &inv
	s.ledger = FromInvoice(inv, s.opts...)
	s.paid = inv.Paid
	s.lastErr = nil
	s.state = StateCommitted
	return inv, nil
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		JobID:   s.jobID,
		State:   s.state.String(),
		Charges: s.ledger.Items(),
		Total:   s.ledger.Total(),
		Paid:    s.paid,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *Session) mutable() error {
	switch s.state {
	case StateCommitted:
		return ErrSessionCommitted
	case StateSubmitting:
		return ErrSubmitInProgress
	}
	return nil
}
