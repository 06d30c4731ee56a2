// Package invoice holds the client-side half of invoicing: an ordered ledger
// of charge line items with a running total, and the edit session that
// submits it once.
package invoice

import (
	"strings"

	"github.com/google/uuid"

	"jobdesk/internal/core"
)

// IDGenerator returns a fresh charge id.
type IDGenerator func() string

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(l *Ledger) {
		l.newID = gen
	}
}

// Ledger is an immutable list of charges. Every mutation returns a new
// Ledger whose total has already been recomputed; the zero value is an
// empty ledger.
type Ledger struct {
	items []core.ChargeLineItem
	total core.Money
	newID IDGenerator
}

func NewLedger(opts ...Option) Ledger {
	var l Ledger
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// FromInvoice seeds a ledger with the charges of a canonical invoice.
func FromInvoice(inv core.Invoice, opts ...Option) Ledger {
	l := NewLedger(opts...)
	return l.with(append([]core.ChargeLineItem(nil), inv.Charges...))
}

// AddCharge appends a charge. An unparsable amount counts as zero; an empty
// description is rejected and l is returned unchanged.
func (l Ledger) AddCharge(description, amount string) (Ledger, error) {
	return l.AddChargeCents(description, core.ParseAmountOrZero(amount))
}

// AddChargeCents is AddCharge for an already typed amount.
func (l Ledger) AddChargeCents(description string, amount core.Money) (Ledger, error) {
	item := core.ChargeLineItem{
		Description: strings.TrimSpace(description),
		Amount:      amount,
	}
	if err := item.Validate(); err != nil {
		return l, err
	}
	item.ID = l.nextID()

	items := make([]core.ChargeLineItem, len(l.items), len(l.items)+1)
	copy(items, l.items)
	return l.with(append(items, item)), nil
}

// RemoveCharge drops the charge with the given id. Unknown ids are a no-op.
func (l Ledger) RemoveCharge(id string) Ledger {
	items := make([]core.ChargeLineItem, 0, len(l.items))
	for _, it := range l.items {
		if it.ID != id {
			items = append(items, it)
		}
	}
	return l.with(items)
}

// Total is the sum of the current charges.
func (l Ledger) Total() core.Money {
	return l.total
}

// Items returns a copy of the charges in insertion order.
func (l Ledger) Items() []core.ChargeLineItem {
	return append([]core.ChargeLineItem{}, l.items...)
}

func (l Ledger) Len() int {
	return len(l.items)
}

// Find returns the charge with the given id.
func (l Ledger) Find(id string) (core.ChargeLineItem, bool) {
	for _, it := range l.items {
		if it.ID == id {
			return it, true
		}
	}
	return core.ChargeLineItem{}, false
}

// Submission builds the payload handed to the backend.
func (l Ledger) Submission(paid bool) core.InvoiceSubmission {
	return core.InvoiceSubmission{
		Price:   l.total,
		Paid:    paid,
		Charges: l.Items(),
	}
}

func (l Ledger) with(items []core.ChargeLineItem) Ledger {
	var sum core.Money
	for _, it := range items {
		sum = sum.Add(it.Amount)
	}
	return Ledger{items: items, total: sum, newID: l.newID}
}

// maxIDAttempts bounds how often a custom generator is asked for an unused id.
const maxIDAttempts = 8

// nextID draws ids until one is unused in this ledger. A generator that
// keeps repeating itself is abandoned for NewID.
func (l Ledger) nextID() string {
	if l.newID != nil {
		for i := 0; i < maxIDAttempts; i++ {
			id := l.newID()
			if _, taken := l.Find(id); !taken && id != "" {
				return id
			}
		}
	}
	return NewID()
}
