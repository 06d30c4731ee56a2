package amqp

import (
	"encoding/json"
	"time"

	"jobdesk/internal/core"
)

// InvoiceCommittedMessage announces that a job's invoice was persisted.
// It carries totals only; consumers fetch the invoice itself from storage.
type InvoiceCommittedMessage struct {
	JobID       int64     `json:"job_id"`
	PriceCents  int64     `json:"price_cents"`
	Paid        bool      `json:"paid"`
	ChargeCount int       `json:"charge_count"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewInvoiceCommittedMessage(inv core.Invoice) *InvoiceCommittedMessage {
	ts := inv.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &InvoiceCommittedMessage{
		JobID:       inv.JobID,
		PriceCents:  inv.Price.Cents,
		Paid:        inv.Paid,
		ChargeCount: len(inv.Charges),
		Timestamp:   ts,
	}
}

// ToJSON converts the message to JSON bytes
func (m *InvoiceCommittedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func InvoiceCommittedMessageFromJSON(data []byte) (*InvoiceCommittedMessage, error) {
	var msg InvoiceCommittedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
