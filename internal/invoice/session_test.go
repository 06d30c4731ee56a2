package invoice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdesk/internal/core"
)

type recordingSubmitter struct {
	calls []core.InvoiceSubmission
	err   error
}

func (r *recordingSubmitter) SubmitInvoice(_ context.Context, jobID int64, sub core.InvoiceSubmission) (core.Invoice, error) {
	r.calls = append(r.calls, sub)
	if r.err != nil {
		return core.Invoice{}, r.err
	}
	return core.Invoice{
		JobID:     jobID,
		Price:     sub.Price,
		Paid:      sub.Paid,
		Charges:   sub.Charges,
		UpdatedAt: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC),
	}, nil
}

func TestSessionLifecycle(t *testing.T) {
	s := NewSession(42, WithIDGenerator(counterIDs()))
	assert.Equal(t, StateEmpty, s.State())

	parts, err := s.AddCharge("parts", "50")
	require.NoError(t, err)
	assert.Equal(t, "c1", parts.ID)
	assert.Equal(t, StateEditing, s.State())

	_, err = s.AddCharge("labor", "75")
	require.NoError(t, err)
	assert.Equal(t, int64(12500), s.Ledger().Total().Cents)

	require.NoError(t, s.RemoveCharge(parts.ID))
	assert.Equal(t, int64(7500), s.Ledger().Total().Cents)
	require.NoError(t, s.SetPaid(true))

	sub := &recordingSubmitter{}
	inv, err := s.Submit(context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, sub.calls, 1)
	assert.Equal(t, core.InvoiceSubmission{
		Price:   core.Money{Cents: 7500},
		Paid:    true,
		Charges: []core.ChargeLineItem{{ID: "c2", Description: "labor", Amount: core.Money{Cents: 7500}}},
	}, sub.calls[0])

	assert.Equal(t, StateCommitted, s.State())
	assert.Equal(t, int64(42), inv.JobID)
	got, ok := s.Invoice()
	require.True(t, ok)
	assert.Equal(t, inv, got)

	_, err = s.AddCharge("more", "1")
	assert.ErrorIs(t, err, ErrSessionCommitted)
	assert.ErrorIs(t, s.RemoveCharge("c2"), ErrSessionCommitted)
	_, err = s.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, ErrSessionCommitted)
	assert.Len(t, sub.calls, 1)
}

func TestSessionSubmitEmpty(t *testing.T) {
	s := NewSession(1)
	sub := &recordingSubmitter{}

	_, err := s.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, core.ErrNoCharges)
	assert.Empty(t, sub.calls, "no network call for an empty ledger")
	assert.Equal(t, StateEmpty, s.State())

	// Adding then removing everything returns to Empty and is refused again.
	c, err := s.AddCharge("parts", "10")
	require.NoError(t, err)
	require.NoError(t, s.RemoveCharge(c.ID))
	assert.Equal(t, StateEmpty, s.State())
	_, err = s.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, core.ErrNoCharges)
	assert.Empty(t, sub.calls)
}

func TestSessionSubmitFailureKeepsLedger(t *testing.T) {
	s := NewSession(9)
	_, err := s.AddCharge("parts", "50")
	require.NoError(t, err)
	before := s.Ledger().Items()

	backendErr := errors.New("503 service unavailable")
	sub := &recordingSubmitter{err: backendErr}
	_, err = s.Submit(context.Background(), sub)
	require.Error(t, err)
	assert.ErrorIs(t, err, backendErr)

	assert.Equal(t, StateEditing, s.State())
	assert.Equal(t, before, s.Ledger().Items())
	assert.Equal(t, backendErr, s.LastError())
	assert.Equal(t, backendErr.Error(), s.Snapshot().LastError)

	// Retry without re-entering data.
	sub.err = nil
	_, err = s.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Len(t, sub.calls, 2)
	assert.Equal(t, sub.calls[0], sub.calls[1])
	assert.Nil(t, s.LastError())
	assert.Equal(t, StateCommitted, s.State())
}

func TestSessionAddChargeValidation(t *testing.T) {
	s := NewSession(3)
	_, err := s.AddCharge("  ", "10")
	assert.ErrorIs(t, err, core.ErrEmptyDescription)
	assert.Equal(t, StateEmpty, s.State())
	assert.Equal(t, 0, s.Ledger().Len())
}

func TestSessionRefusesMutationWhileSubmitting(t *testing.T) {
	s := NewSession(5)
	_, err := s.AddCharge("parts", "10")
	require.NoError(t, err)

	var inner error
	sub := SubmitterFunc(func(ctx context.Context, jobID int64, in core.InvoiceSubmission) (core.Invoice, error) {
		_, inner = s.AddCharge("sneaky", "1")
		return core.Invoice{JobID: jobID, Price: in.Price, Charges: in.Charges}, nil
	})
	_, err = s.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrSubmitInProgress)
	assert.Equal(t, 1, s.Ledger().Len())
}

func TestResumeSession(t *testing.T) {
	inv := core.Invoice{
		JobID:   11,
		Paid:    true,
		Price:   core.Money{Cents: 2000},
		Charges: []core.ChargeLineItem{{ID: "srv-1", Description: "visit", Amount: core.Money{Cents: 2000}}},
	}
	s := ResumeSession(inv)
	assert.Equal(t, StateEditing, s.State())
	assert.True(t, s.Paid())
	assert.Equal(t, int64(2000), s.Ledger().Total().Cents)

	empty := ResumeSession(core.Invoice{JobID: 12})
	assert.Equal(t, StateEmpty, empty.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "empty", StateEmpty.String())
	assert.Equal(t, "editing", StateEditing.String())
	assert.Equal(t, "submitting", StateSubmitting.String())
	assert.Equal(t, "committed", StateCommitted.String())
	assert.Equal(t, "state(9)", State(9).String())
}
