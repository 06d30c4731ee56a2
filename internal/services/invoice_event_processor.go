package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jobdesk/internal/amqp"
	"jobdesk/internal/jobs"
	"jobdesk/internal/log"
)

// InvoiceEventPublisher announces committed invoices.
type InvoiceEventPublisher interface {
	PublishInvoiceCommitted(ctx context.Context, msg *amqp.InvoiceCommittedMessage) error
}

// InvoiceEventProcessorConfig holds configuration for the outbox processor
type InvoiceEventProcessorConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxRetries      int
	CleanupInterval time.Duration
	CleanupAge      time.Duration
}

// DefaultInvoiceEventProcessorConfig returns sensible defaults
func DefaultInvoiceEventProcessorConfig() InvoiceEventProcessorConfig {
	return InvoiceEventProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// InvoiceEventProcessor drains the invoice event outbox into the broker.
// An event stays pending until the publisher acknowledges it.
type InvoiceEventProcessor struct {
	outbox    jobs.InvoiceOutbox
	publisher InvoiceEventPublisher
	config    InvoiceEventProcessorConfig
	logger    *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	wakeCh  chan struct{}
}

func NewInvoiceEventProcessor(
	outbox jobs.InvoiceOutbox,
	publisher InvoiceEventPublisher,
	logger *log.Logger,
	config InvoiceEventProcessorConfig,
) *InvoiceEventProcessor {
	defaults := DefaultInvoiceEventProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.CleanupAge <= 0 {
		config.CleanupAge = defaults.CleanupAge
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &InvoiceEventProcessor{
		outbox:    outbox,
		publisher: publisher,
		config:    config,
		logger:    logger.WithComponent(log.ComponentAMQP),
		wakeCh:    make(chan struct{}, 1),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *InvoiceEventProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("invoice event processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Events parked by an earlier run get another chance.
	if err := p.outbox.RetryFailedInvoiceEvents(ctx); err != nil {
		p.logger.WarnContext(ctx, "Failed to requeue failed invoice events", log.FieldError, err)
	}

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Invoice event processor started",
		log.FieldOperation, log.OpStartup,
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *InvoiceEventProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Invoice event processor stopped", log.FieldOperation, log.OpShutdown)
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Invoice event processor stop timed out", log.FieldOperation, log.OpShutdown)
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

func (p *InvoiceEventProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Notify asks a running processor to poll now instead of waiting for the
// next tick. It never blocks.
func (p *InvoiceEventProcessor) Notify() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

func (p *InvoiceEventProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Deliver whatever a previous run left pending.
	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-p.wakeCh:
			p.ProcessBatch(ctx)
		case <-pollTicker.C:
			p.ProcessBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupDelivered(ctx)
			p.requeueFailed(ctx)
		}
	}
}

// ProcessBatch publishes one batch of pending events and reports how many
// were delivered.
func (p *InvoiceEventProcessor) ProcessBatch(ctx context.Context) int {
	events, err := p.outbox.PendingInvoiceEvents(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load pending invoice events", log.FieldError, err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	started := time.Now()
	delivered := 0
	defer func() {
		p.logger.DebugContext(ctx, "Processed invoice events",
			"count", len(events),
			"delivered", delivered,
			log.FieldSuccess, delivered == len(events),
			log.FieldDuration, time.Since(started).Milliseconds())
	}()

	for _, ev := range events {
		select {
		case <-p.stopCh:
			return delivered
		case <-ctx.Done():
			return delivered
		default:
		}

		if err := p.publisher.PublishInvoiceCommitted(ctx, messageFor(ev)); err != nil {
			p.handleFailure(ctx, ev, err)
			continue
		}
		p.handleSuccess(ctx, ev)
		delivered++
	}
	return delivered
}

func messageFor(ev jobs.InvoiceEvent) *amqp.InvoiceCommittedMessage {
	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &amqp.InvoiceCommittedMessage{
		JobID:       ev.JobID,
		PriceCents:  ev.PriceCents,
		Paid:        ev.Paid,
		ChargeCount: ev.ChargeCount,
		Timestamp:   ts,
	}
}

func (p *InvoiceEventProcessor) handleSuccess(ctx context.Context, ev jobs.InvoiceEvent) {
	if err := p.outbox.MarkInvoiceEventDone(ctx, ev.ID); err != nil {
		p.logger.ErrorContext(ctx, "Failed to mark invoice event done",
			"event_id", ev.ID,
			log.FieldError, err)
		return
	}
	p.logger.InfoContext(ctx, "Published invoice committed event",
		log.FieldOperation, log.OpPublish,
		log.FieldJobID, ev.JobID,
		log.FieldTotalCents, ev.PriceCents,
		log.FieldChargeCount, ev.ChargeCount,
		"event_id", ev.ID)
}

// handleFailure keeps the event pending until MaxRetries attempts have
// failed, then parks it as failed.
func (p *InvoiceEventProcessor) handleFailure(ctx context.Context, ev jobs.InvoiceEvent, publishErr error) {
	attempt := ev.Attempts + 1
	p.logger.WarnContext(ctx, "Invoice event publish failed",
		log.FieldOperation, log.OpPublish,
		log.FieldJobID, ev.JobID,
		"event_id", ev.ID,
		"attempt", attempt,
		log.FieldError, publishErr)

	if attempt >= p.config.MaxRetries {
		if err := p.outbox.MarkInvoiceEventFailed(ctx, ev.ID, publishErr.Error()); err != nil {
			p.logger.ErrorContext(ctx, "Failed to mark invoice event failed",
				"event_id", ev.ID, log.FieldError, err)
		}
		p.logger.ErrorContext(ctx, "Invoice event failed permanently after max retries",
			log.FieldJobID, ev.JobID,
			"event_id", ev.ID,
			"attempts", attempt)
		return
	}

	if err := p.outbox.RetryInvoiceEvent(ctx, ev.ID, publishErr.Error()); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record invoice event attempt",
			"event_id", ev.ID, log.FieldError, err)
	}
}

func (p *InvoiceEventProcessor) cleanupDelivered(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupAge)
	if err := p.outbox.CleanupInvoiceEvents(ctx, cutoff); err != nil {
		p.logger.ErrorContext(ctx, "Failed to clean up delivered invoice events", log.FieldError, err)
	}
}

// requeueFailed gives parked events a new round of attempts, so an outage
// longer than MaxRetries polls still ends in delivery.
func (p *InvoiceEventProcessor) requeueFailed(ctx context.Context) {
	if err := p.outbox.RetryFailedInvoiceEvents(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Failed to requeue failed invoice events", log.FieldError, err)
	}
}

// Stats returns current outbox statistics
func (p *InvoiceEventProcessor) Stats(ctx context.Context) (jobs.InvoiceEventStats, error) {
	return p.outbox.InvoiceEventStats(ctx)
}

// RetryFailed puts every failed event back in the queue
func (p *InvoiceEventProcessor) RetryFailed(ctx context.Context) error {
	return p.outbox.RetryFailedInvoiceEvents(ctx)
}
