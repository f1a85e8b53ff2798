package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Xenocodek/crypto-webhook-server/internal/cryptopay"
	"github.com/Xenocodek/crypto-webhook-server/internal/log"
	"github.com/Xenocodek/crypto-webhook-server/internal/metrics"
	"github.com/Xenocodek/crypto-webhook-server/internal/queue"
	"github.com/Xenocodek/crypto-webhook-server/internal/telegram"
)

// pollInterval is how often the queue is checked for work.
const pollInterval = 1 * time.Second

// MessageSender delivers a notification to a chat.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// DeliveryQueue is the queue surface the dispatcher needs.
type DeliveryQueue interface {
	Dequeue(ctx context.Context) (*queue.Delivery, error)
	Complete(ctx context.Context, deliveryID string, status queue.Status, lastError *string) error
	Retry(ctx context.Context, deliveryID string, backoffBase time.Duration, lastError string) error
}

// Dispatcher dequeues deliveries and sends them via the Telegram Bot API.
type Dispatcher struct {
	queue       DeliveryQueue
	sender      MessageSender
	backoffBase time.Duration
	logger      *slog.Logger
}

// New creates a new Dispatcher.
func New(q DeliveryQueue, sender MessageSender, backoffBase time.Duration) *Dispatcher {
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	return &Dispatcher{
		queue:       q,
		sender:      sender,
		backoffBase: backoffBase,
		logger:      log.WithComponent("dispatch"),
	}
}

// Start runs the main dispatch loop. This is a blocking call that runs until
// ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started")
	defer d.logger.Info("dispatch loop stopped")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.processNext(ctx); err != nil {
				d.logger.Error("failed to process delivery", "error", err)
				// Continue processing - don't crash the loop on individual errors
			}
		}
	}
}

// processNext dequeues the next delivery and executes it.
func (d *Dispatcher) processNext(ctx context.Context) error {
	delivery, err := d.queue.Dequeue(ctx)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if delivery == nil {
		// Queue is empty, nothing to do
		return nil
	}

	d.executeDelivery(ctx, delivery)
	return nil
}

// executeDelivery sends one notification and records the outcome.
func (d *Dispatcher) executeDelivery(ctx context.Context, delivery *queue.Delivery) {
	logger := log.WithDelivery(delivery.ID).With(
		"update_id", delivery.UpdateID,
		"chat_id", delivery.ChatID,
		"attempt", delivery.Attempt,
	)
	logger.Info("executing delivery")

	var invoice cryptopay.Invoice
	if err := json.Unmarshal(delivery.Payload, &invoice); err != nil {
		errMsg := fmt.Sprintf("failed to unmarshal invoice payload: %v", err)
		logger.Error(errMsg)
		d.completeDelivery(ctx, delivery.ID, queue.StatusFailed, &errMsg)
		return
	}

	text := cryptopay.BuildNotification(invoice)

	start := time.Now()
	err := d.sender.SendMessage(ctx, delivery.ChatID, text)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if telegram.IsPermanent(err) {
			errMsg := fmt.Sprintf("permanent telegram error: %v", err)
			logger.Error(errMsg)
			d.completeDelivery(ctx, delivery.ID, queue.StatusFailed, &errMsg)
			return
		}

		logger.Warn("transient send failure, rescheduling", "error", err)
		if rerr := d.queue.Retry(ctx, delivery.ID, d.backoffBase, err.Error()); rerr != nil {
			logger.Error("failed to reschedule delivery", "error", rerr)
		}
		return
	}

	logger.Info("notification delivered", "invoice_id", invoice.InvoiceID, "status", invoice.Status)
	d.completeDelivery(ctx, delivery.ID, queue.StatusDelivered, nil)
}

// completeDelivery marks a delivery terminal and bumps the outcome counter.
func (d *Dispatcher) completeDelivery(ctx context.Context, deliveryID string, status queue.Status, lastError *string) {
	metrics.Deliveries.WithLabelValues(string(status)).Inc()
	if err := d.queue.Complete(ctx, deliveryID, status, lastError); err != nil {
		d.logger.Error("failed to complete delivery", "delivery_id", deliveryID, "error", err)
	}
}
