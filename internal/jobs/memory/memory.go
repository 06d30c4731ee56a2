package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"jobdesk/internal/core"
	"jobdesk/internal/jobs"
)

// Store keeps jobs and invoices in process memory.
type Store struct {
	mu       sync.Mutex
	jobs     map[int64]core.Job
	invoices map[int64]core.Invoice
	events   []jobs.InvoiceEvent
	lastID   int64
	now      func() time.Time
}

var _ jobs.Store = (*Store)(nil)

func New(seed []core.Job) *Store {
	s := &Store{
		jobs:     make(map[int64]core.Job, len(seed)),
		invoices: make(map[int64]core.Invoice),
		now:      time.Now,
	}
	for _, j := range seed {
		s.jobs[j.ID] = j
	}
	return s
}

// NewFromFile seeds the store from a JSON array of jobs. A missing or
// unreadable file falls back to DefaultSeed.
func NewFromFile(path string) *Store {
	seed, err := ReadSeed(path)
	if err != nil || len(seed) == 0 {
		seed = DefaultSeed()
	}
	return New(seed)
}

// ReadSeed decodes a JSON array of jobs from path.
func ReadSeed(path string) ([]core.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed []core.Job
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return seed, nil
}

func DefaultSeed() []core.Job {
	return []core.Job{
		{ID: 1, Description: "Boiler service", Status: core.StatusPending, Price: core.Money{Cents: 12000}, Client: "Rossi", Address: "Via Roma 1"},
		{ID: 2, Description: "Leak repair", Status: core.StatusInProgress, Price: core.Money{Cents: 8500}, Client: "Bianchi", Address: "Corso Italia 22"},
		{ID: 3, Description: "Radiator install", Status: core.StatusCompleted, Price: core.Money{Cents: 45000}, Client: "Verdi", Address: "Piazza Duomo 3"},
	}
}

func (s *Store) ListJobs(_ context.Context, statuses ...core.JobStatus) ([]core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if jobs.MatchesStatus(j.Status, statuses) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *Store) GetJob(_ context.Context, id int64) (core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return core.Job{}, fmt.Errorf("job %d: %w", id, jobs.ErrNotFound)
	}
	return j, nil
}

func (s *Store) ScheduleJob(_ context.Context, id int64, at time.Time) (core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return core.Job{}, fmt.Errorf("job %d: %w", id, jobs.ErrNotFound)
	}
	j.ScheduledAt = core.ScheduledAtTime(at)
	s.jobs[id] = j
	return j, nil
}

func (s *Store) SetJobStatus(_ context.Context, id int64, status core.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, jobs.ErrNotFound)
	}
	j.Status = status
	s.jobs[id] = j
	return nil
}

func (s *Store) GetInvoice(_ context.Context, jobID int64) (core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[jobID]
	if !ok {
		return core.Invoice{}, fmt.Errorf("invoice for job %d: %w", jobID, jobs.ErrNotFound)
	}
	inv.Charges = append([]core.ChargeLineItem(nil), inv.Charges...)
	return inv, nil
}

func (s *Store) SaveInvoice(_ context.Context, jobID int64, sub core.InvoiceSubmission) (core.Invoice, error) {
	if err := sub.Validate(); err != nil {
		return core.Invoice{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return core.Invoice{}, fmt.Errorf("job %d: %w", jobID, jobs.ErrNotFound)
	}
	inv := core.Invoice{
		JobID:     jobID,
		Price:     sub.Price,
		Paid:      sub.Paid,
		Charges:   append([]core.ChargeLineItem(nil), sub.Charges...),
		UpdatedAt: s.now().UTC(),
	}
	s.invoices[jobID] = inv

	s.lastID++
	ev := jobs.NewInvoiceEvent(inv, inv.UpdatedAt)
	ev.ID = s.lastID
	s.events = append(s.events, ev)
	return inv, nil
}

func (s *Store) PendingInvoiceEvents(_ context.Context, limit int) ([]jobs.InvoiceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jobs.InvoiceEvent
	for _, ev := range s.events {
		if limit > 0 && len(out) == limit {
			break
		}
		if ev.Status == jobs.EventPending {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) MarkInvoiceEventDone(_ context.Context, id int64) error {
	return s.updateEvent(id, func(ev *jobs.InvoiceEvent) {
		ev.Status = jobs.EventDone
	})
}

func (s *Store) RetryInvoiceEvent(_ context.Context, id int64, lastErr string) error {
	return s.updateEvent(id, func(ev *jobs.InvoiceEvent) {
		ev.Attempts++
		ev.LastError = lastErr
	})
}

func (s *Store) MarkInvoiceEventFailed(_ context.Context, id int64, lastErr string) error {
	return s.updateEvent(id, func(ev *jobs.InvoiceEvent) {
		ev.Attempts++
		ev.LastError = lastErr
		ev.Status = jobs.EventFailed
	})
}

func (s *Store) RetryFailedInvoiceEvents(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].Status == jobs.EventFailed {
			s.events[i].Status = jobs.EventPending
			s.events[i].Attempts = 0
		}
	}
	return nil
}

func (s *Store) CleanupInvoiceEvents(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.Status == jobs.EventDone && ev.UpdatedAt.Before(before) {
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return nil
}

func (s *Store) InvoiceEventStats(_ context.Context) (jobs.InvoiceEventStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st jobs.InvoiceEventStats
	for _, ev := range s.events {
		switch ev.Status {
		case jobs.EventPending:
			st.Pending++
		case jobs.EventDone:
			st.Done++
		case jobs.EventFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (s *Store) updateEvent(id int64, fn func(*jobs.InvoiceEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			fn(&s.events[i])
			s.events[i].UpdatedAt = s.now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invoice event %d: %w", id, jobs.ErrNotFound)
}
