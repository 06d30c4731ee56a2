package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdesk/internal/amqp"
	"jobdesk/internal/core"
	"jobdesk/internal/jobs"
	"jobdesk/internal/jobs/memory"
	"jobdesk/internal/log"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.InvoiceCommittedMessage
	err  error
}

func (p *recordingPublisher) PublishInvoiceCommitted(_ context.Context, msg *amqp.InvoiceCommittedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingPublisher) delivered() []*amqp.InvoiceCommittedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.InvoiceCommittedMessage(nil), p.msgs...)
}

func submitInvoice(t *testing.T, store jobs.InvoiceWriter, jobID int64, cents int64) {
	t.Helper()
	_, err := store.SaveInvoice(context.Background(), jobID, core.InvoiceSubmission{
		Price:   core.Money{Cents: cents},
		Charges: []core.ChargeLineItem{{ID: "a", Description: "Labour", Amount: core.Money{Cents: cents}}},
	})
	require.NoError(t, err)
}

func newTestProcessor(store jobs.InvoiceOutbox, pub InvoiceEventPublisher, cfg InvoiceEventProcessorConfig) *InvoiceEventProcessor {
	return NewInvoiceEventProcessor(store, pub, log.New(log.Config{Output: io.Discard}), cfg)
}

func TestDefaultInvoiceEventProcessorConfig(t *testing.T) {
	config := DefaultInvoiceEventProcessorConfig()

	assert.Equal(t, 10*time.Second, config.PollInterval)
	assert.Equal(t, 10, config.BatchSize)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, time.Hour, config.CleanupInterval)
	assert.Equal(t, 24*time.Hour, config.CleanupAge)
}

func TestInvoiceEventProcessor_ZeroConfigUsesDefaults(t *testing.T) {
	p := newTestProcessor(memory.New(nil), &recordingPublisher{}, InvoiceEventProcessorConfig{})
	assert.Equal(t, DefaultInvoiceEventProcessorConfig(), p.config)
}

func TestInvoiceEventProcessor_DeliversPendingEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.DefaultSeed())
	pub := &recordingPublisher{}
	p := newTestProcessor(store, pub, DefaultInvoiceEventProcessorConfig())

	submitInvoice(t, store, 1, 5000)
	submitInvoice(t, store, 2, 700)

	assert.Equal(t, 2, p.ProcessBatch(ctx))
	msgs := pub.delivered()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].JobID)
	assert.Equal(t, int64(5000), msgs[0].PriceCents)
	assert.Equal(t, 1, msgs[0].ChargeCount)
	assert.False(t, msgs[0].Timestamp.IsZero())
	assert.Equal(t, int64(2), msgs[1].JobID)

	// Delivered events are not published twice.
	assert.Zero(t, p.ProcessBatch(ctx))
	assert.Len(t, pub.delivered(), 2)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.InvoiceEventStats{Done: 2}, stats)
}

func TestInvoiceEventProcessor_FailedPublishIsRetriedLater(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.DefaultSeed())
	pub := &recordingPublisher{}
	p := newTestProcessor(store, pub, DefaultInvoiceEventProcessorConfig())

	submitInvoice(t, store, 1, 5000)

	pub.setErr(errors.New("broker down"))
	assert.Zero(t, p.ProcessBatch(ctx))
	assert.Empty(t, pub.delivered())

	pending, err := store.PendingInvoiceEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)

	pub.setErr(nil)
	assert.Equal(t, 1, p.ProcessBatch(ctx))
	msgs := pub.delivered()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].JobID)
	assert.Equal(t, int64(5000), msgs[0].PriceCents)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.InvoiceEventStats{Done: 1}, stats)
}

func TestInvoiceEventProcessor_MaxRetriesParksEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.DefaultSeed())
	pub := &recordingPublisher{err: errors.New("broker down")}
	cfg := DefaultInvoiceEventProcessorConfig()
	cfg.MaxRetries = 2
	p := newTestProcessor(store, pub, cfg)

	submitInvoice(t, store, 1, 5000)

	p.ProcessBatch(ctx)
	p.ProcessBatch(ctx)
	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.InvoiceEventStats{Failed: 1}, stats)

	// Parked events are skipped until they are explicitly retried.
	pub.setErr(nil)
	assert.Zero(t, p.ProcessBatch(ctx))

	require.NoError(t, p.RetryFailed(ctx))
	assert.Equal(t, 1, p.ProcessBatch(ctx))
	assert.Len(t, pub.delivered(), 1)
}

func TestInvoiceEventProcessor_StartStop(t *testing.T) {
	store := memory.New(memory.DefaultSeed())
	pub := &recordingPublisher{}
	cfg := DefaultInvoiceEventProcessorConfig()
	cfg.PollInterval = time.Hour
	p := newTestProcessor(store, pub, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.False(t, p.IsRunning())
	require.NoError(t, p.Start(ctx))
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start(ctx), "second start should fail")

	// Notify wakes the loop long before the hourly poll.
	submitInvoice(t, store, 1, 5000)
	p.Notify()
	assert.Eventually(t, func() bool { return len(pub.delivered()) == 1 }, 2*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, p.Stop(stopCtx))
	assert.False(t, p.IsRunning())
}

func TestInvoiceEventProcessor_StartRequeuesParkedEvents(t *testing.T) {
	store := memory.New(memory.DefaultSeed())
	pub := &recordingPublisher{}
	cfg := DefaultInvoiceEventProcessorConfig()
	cfg.PollInterval = time.Hour
	p := newTestProcessor(store, pub, cfg)

	submitInvoice(t, store, 1, 5000)
	pending, err := store.PendingInvoiceEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, store.MarkInvoiceEventFailed(context.Background(), pending[0].ID, "broker down"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Stop(context.Background())

	assert.Eventually(t, func() bool { return len(pub.delivered()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestInvoiceEventProcessor_StopNotRunning(t *testing.T) {
	p := newTestProcessor(memory.New(nil), &recordingPublisher{}, DefaultInvoiceEventProcessorConfig())
	assert.NoError(t, p.Stop(context.Background()))
	p.Notify()
	p.Notify()
}

func TestInvoiceService_SubmitThenProcessorDelivers(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.DefaultSeed())
	pub := &recordingPublisher{err: errors.New("broker down")}
	p := newTestProcessor(store, pub, DefaultInvoiceEventProcessorConfig())
	svc := NewInvoiceService(store, p, nil, InvoiceServiceConfig{IDGenerator: counterIDs()})

	_, _, err := svc.AddCharge(ctx, 1, "Labour", "10")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, 1)
	require.NoError(t, err, "a broker outage must not fail the submission")

	p.ProcessBatch(ctx)
	assert.Empty(t, pub.delivered())

	pub.setErr(nil)
	p.ProcessBatch(ctx)
	msgs := pub.delivered()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].JobID)
	assert.Equal(t, int64(1000), msgs[0].PriceCents)
}
