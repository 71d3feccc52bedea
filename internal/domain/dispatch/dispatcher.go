// Package dispatch sends exactly one outbound reply per processed batch.
// The reply is persisted before the gateway call so a crash between
// persistence and send stays recoverable and auditable.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/infrastructure/gateway"
	"github.com/zapqual/engine/internal/infrastructure/metrics"
	"github.com/zapqual/engine/internal/infrastructure/scheduler"
)

// ErrDispatchFailed marks a reply that was generated and persisted but
// could not be delivered. It must never be confused with an inference
// failure: the persisted text is resent later, never regenerated.
var ErrDispatchFailed = errors.New("dispatch: delivery failed")

// Dispatcher persists and delivers outbound replies.
type Dispatcher struct {
	messages   message.Repository
	sender     gateway.Sender
	queue      scheduler.Queue
	retryDelay time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewDispatcher constructs the dispatcher. retryDelay spaces the single
// scheduled delivery retry after a failed send.
func NewDispatcher(messages message.Repository, sender gateway.Sender, queue scheduler.Queue, retryDelay time.Duration, log zerolog.Logger) *Dispatcher {
	if retryDelay <= 0 {
		retryDelay = time.Minute
	}
	return &Dispatcher{
		messages:   messages,
		sender:     sender,
		queue:      queue,
		retryDelay: retryDelay,
		log:        log.With().Str("component", "dispatcher").Logger(),
		now:        time.Now,
	}
}

// WithClock overrides the dispatcher's clock. Test use only.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch persists the reply, sends it through the gateway and records
// the result. Returns the engine-assigned message id in every case where
// the text was persisted, alongside ErrDispatchFailed when the send
// itself failed.
func (d *Dispatcher) Dispatch(ctx context.Context, state *session.State, text, correlationID string) (string, error) {
	now := d.now()
	msg := &message.Message{
		PublicID:      "out_" + uuid.NewString(),
		SessionKey:    state.SessionKey,
		OrgID:         state.OrgID,
		Direction:     message.DirectionOutbound,
		Address:       state.ContactAddress,
		Text:          text,
		Status:        message.StatusPending,
		CorrelationID: correlationID,
		Timestamp:     now,
	}

	if err := d.messages.Create(ctx, msg); err != nil {
		return "", fmt.Errorf("persist outbound message: %w", err)
	}

	result, err := d.sender.Send(ctx, state.ContactAddress, text)
	if err != nil {
		d.log.Error().Err(err).
			Str("message_id", msg.PublicID).
			Str("session_key", state.SessionKey).
			Msg("gateway send failed, text persisted for retry")
		metrics.RecordDispatch("failed")

		if markErr := d.messages.MarkDeliveryFailed(ctx, msg.PublicID, err.Error()); markErr != nil {
			d.log.Error().Err(markErr).Str("message_id", msg.PublicID).Msg("failed to mark delivery failure")
		}
		d.scheduleRetry(ctx, msg.PublicID, state.SessionKey)
		return msg.PublicID, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	if err := d.messages.MarkSent(ctx, msg.PublicID, result.ProviderMessageID); err != nil {
		d.log.Error().Err(err).Str("message_id", msg.PublicID).Msg("failed to mark message sent")
	}
	metrics.RecordDispatch("sent")
	return msg.PublicID, nil
}

// RetryDelivery resends an already-persisted reply. It is a no-op for
// messages that are not in the delivery-failed state, which makes the
// scheduled retry safe under at-least-once task delivery.
func (d *Dispatcher) RetryDelivery(ctx context.Context, messageID string) error {
	msg, err := d.messages.GetByPublicID(ctx, messageID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load message for retry: %w", err)
	}

	if msg.Status != message.StatusDeliveryFailed {
		return nil
	}

	result, err := d.sender.Send(ctx, msg.Address, msg.Text)
	if err != nil {
		metrics.RecordDispatch("retry_failed")
		if markErr := d.messages.MarkDeliveryFailed(ctx, msg.PublicID, err.Error()); markErr != nil {
			d.log.Error().Err(markErr).Str("message_id", msg.PublicID).Msg("failed to record retry failure")
		}
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	if err := d.messages.MarkSent(ctx, msg.PublicID, result.ProviderMessageID); err != nil {
		d.log.Error().Err(err).Str("message_id", msg.PublicID).Msg("failed to mark retried message sent")
	}
	metrics.RecordDispatch("retry_sent")
	return nil
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, messageID, sessionKey string) {
	task := scheduler.Task{
		ID:          uuid.NewString(),
		Kind:        scheduler.KindRetryDelivery,
		SessionKey:  sessionKey,
		MessageID:   messageID,
		ScheduledAt: d.now(),
	}
	if err := d.queue.Enqueue(ctx, task, d.now().Add(d.retryDelay)); err != nil {
		d.log.Error().Err(err).Str("message_id", messageID).Msg("failed to schedule delivery retry")
		return
	}
	metrics.ScheduledTasksTotal.WithLabelValues(string(scheduler.KindRetryDelivery)).Inc()
}
