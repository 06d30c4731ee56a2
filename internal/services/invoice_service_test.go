package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdesk/internal/core"
	"jobdesk/internal/invoice"
	"jobdesk/internal/jobs"
	"jobdesk/internal/jobs/memory"
	"jobdesk/internal/log"
)

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func pendingEvents(t *testing.T, store jobs.InvoiceOutbox) []jobs.InvoiceEvent {
	t.Helper()
	events, err := store.PendingInvoiceEvents(context.Background(), 100)
	require.NoError(t, err)
	return events
}

// flakyStore fails SaveInvoice while failSaves is set.
type flakyStore struct {
	*memory.Store
	failSaves bool
	saves     int
}

func (f *flakyStore) SaveInvoice(ctx context.Context, jobID int64, sub core.InvoiceSubmission) (core.Invoice, error) {
	f.saves++
	if f.failSaves {
		return core.Invoice{}, errors.New("backend unavailable")
	}
	return f.Store.SaveInvoice(ctx, jobID, sub)
}

func counterIDs() invoice.IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("c%d", n)
	}
}

func newInvoiceService(t *testing.T) (*InvoiceService, *flakyStore, *countingNotifier) {
	t.Helper()
	store := &flakyStore{Store: memory.New(memory.DefaultSeed())}
	notifier := &countingNotifier{}
	svc := NewInvoiceService(store, notifier, nil, InvoiceServiceConfig{
		SessionTTL:  time.Minute,
		CacheSize:   10,
		IDGenerator: counterIDs(),
	})
	return svc, store, notifier
}

func TestInvoiceService_AddRemoveSubmit(t *testing.T) {
	ctx := context.Background()
	svc, store, notifier := newInvoiceService(t)

	snap, err := svc.Open(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "empty", snap.State)
	assert.Empty(t, snap.Charges)

	item, snap, err := svc.AddCharge(ctx, 1, "Labour", "50")
	require.NoError(t, err)
	assert.Equal(t, "c1", item.ID)
	assert.Equal(t, int64(5000), snap.Total.Cents)

	_, snap, err = svc.AddCharge(ctx, 1, "Parts", "75")
	require.NoError(t, err)
	assert.Equal(t, int64(12500), snap.Total.Cents)
	assert.Equal(t, "editing", snap.State)

	snap, err = svc.RemoveCharge(ctx, 1, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(7500), snap.Total.Cents)
	require.Len(t, snap.Charges, 1)

	_, err = svc.SetPaid(ctx, 1, true)
	require.NoError(t, err)

	inv, err := svc.Submit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), inv.Price.Cents)
	assert.True(t, inv.Paid)
	assert.Equal(t, 1, store.saves)

	assert.Equal(t, 1, notifier.count())
	events := pendingEvents(t, store)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].JobID)
	assert.Equal(t, int64(7500), events[0].PriceCents)
	assert.True(t, events[0].Paid)

	// The committed session is gone; reopening resumes from the stored invoice.
	snap, err = svc.Open(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "editing", snap.State)
	assert.Equal(t, int64(7500), snap.Total.Cents)
	assert.True(t, snap.Paid)
}

func TestInvoiceService_EmptySubmitDoesNotTouchStorage(t *testing.T) {
	ctx := context.Background()
	svc, store, notifier := newInvoiceService(t)

	_, err := svc.Submit(ctx, 2)
	assert.ErrorIs(t, err, core.ErrNoCharges)
	assert.Zero(t, store.saves)
	assert.Zero(t, notifier.count())
	assert.Empty(t, pendingEvents(t, store))
}

func TestInvoiceService_SubmitFailureKeepsCharges(t *testing.T) {
	ctx := context.Background()
	svc, store, notifier := newInvoiceService(t)

	_, _, err := svc.AddCharge(ctx, 2, "Call-out", "40")
	require.NoError(t, err)

	store.failSaves = true
	_, err = svc.Submit(ctx, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.Zero(t, notifier.count())
	assert.Empty(t, pendingEvents(t, store))

	snap, err := svc.Open(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "editing", snap.State)
	assert.Len(t, snap.Charges, 1)
	assert.Contains(t, snap.LastError, "backend unavailable")

	store.failSaves = false
	inv, err := svc.Submit(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), inv.Price.Cents)
	assert.Equal(t, 2, store.saves)
}

func TestInvoiceService_NilNotifier(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.DefaultSeed())
	svc := NewInvoiceService(store, nil, nil, InvoiceServiceConfig{})

	_, _, err := svc.AddCharge(ctx, 1, "Labour", "10")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, 1)
	assert.NoError(t, err)
	assert.Len(t, pendingEvents(t, store), 1)
}

func TestInvoiceService_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newInvoiceService(t)

	_, _, err := svc.AddCharge(ctx, 1, "   ", "10")
	assert.ErrorIs(t, err, core.ErrEmptyDescription)

	_, snap, err := svc.AddCharge(ctx, 1, "Mystery", "abc")
	require.NoError(t, err)
	assert.Zero(t, snap.Total.Cents)

	_, err = svc.Open(ctx, 999)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestInvoiceService_Discard(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newInvoiceService(t)

	_, _, err := svc.AddCharge(ctx, 1, "Labour", "10")
	require.NoError(t, err)
	svc.Discard(1)

	snap, err := svc.Open(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, snap.Charges)
}

func TestInvoiceService_DiscardDuringEditStaysDiscarded(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newInvoiceService(t)

	_, _, err := svc.AddCharge(ctx, 1, "Labour", "10")
	require.NoError(t, err)

	// A discard that lands while another request holds the session must
	// not be undone when that request finishes.
	err = svc.withSession(ctx, 1, func(sess *invoice.Session) error {
		svc.Discard(1)
		_, err := sess.AddCharge("Parts", "5")
		return err
	})
	require.NoError(t, err)

	snap, err := svc.Open(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, snap.Charges)
	assert.Equal(t, "empty", snap.State)
}

func TestInvoiceService_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.DefaultSeed())
	svc := NewInvoiceService(store, nil, nil, InvoiceServiceConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.AddCharge(ctx, 1, "Item", "1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := svc.Open(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, snap.Charges, 20)
	assert.Equal(t, int64(2000), snap.Total.Cents)
}

// logLine returns the first JSON log record with the given message.
func logLine(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		if m["msg"] == msg {
			return m
		}
	}
	t.Fatalf("no %q record in:\n%s", msg, buf.String())
	return nil
}

func TestInvoiceService_LogsRemovalAndSubmitFailure(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := log.New(log.Config{Format: "json", Output: &buf})
	store := &flakyStore{Store: memory.New(memory.DefaultSeed())}
	svc := NewInvoiceService(store, nil, logger, InvoiceServiceConfig{IDGenerator: counterIDs()})

	_, _, err := svc.AddCharge(ctx, 1, "Labour", "12.50")
	require.NoError(t, err)
	_, _, err = svc.AddCharge(ctx, 1, "Parts", "3")
	require.NoError(t, err)
	_, err = svc.RemoveCharge(ctx, 1, "c1")
	require.NoError(t, err)

	removed := logLine(t, &buf, "Charge removed")
	assert.Equal(t, "c1", removed[log.FieldChargeID])
	assert.Equal(t, float64(1250), removed[log.FieldAmountCents])
	assert.Equal(t, float64(300), removed[log.FieldTotalCents])
	assert.Equal(t, log.OpDelete, removed[log.FieldOperation])

	store.failSaves = true
	_, err = svc.Submit(ctx, 1)
	require.ErrorIs(t, err, ErrSubmitFailed)

	failed := logLine(t, &buf, "Invoice submission failed")
	assert.Equal(t, log.OpSubmit, failed[log.FieldOperation])
	assert.Equal(t, float64(1), failed[log.FieldJobID])
	assert.Contains(t, failed[log.FieldError], "backend unavailable")
}
