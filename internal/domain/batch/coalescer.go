package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/infrastructure/metrics"
	"github.com/zapqual/engine/internal/infrastructure/scheduler"
	"github.com/zapqual/engine/internal/infrastructure/statestore"
)

// Coalescer appends accepted inbound messages to the per-session pending
// list and arms at most one batch window per session at a time. The
// window deadline lives under its own key with a TTL equal to the delay,
// so an elapsed window disappears on its own and SetNX stays the single
// arbiter for concurrent first messages.
type Coalescer struct {
	store    statestore.Store
	queue    scheduler.Queue
	sessions *session.Manager
	delay    time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewCoalescer constructs a coalescer with the configured window delay.
func NewCoalescer(store statestore.Store, queue scheduler.Queue, sessions *session.Manager, delay time.Duration, log zerolog.Logger) *Coalescer {
	return &Coalescer{
		store:    store,
		queue:    queue,
		sessions: sessions,
		delay:    delay,
		log:      log.With().Str("component", "coalescer").Logger(),
		now:      time.Now,
	}
}

// WithClock overrides the coalescer's clock. Test use only.
func (c *Coalescer) WithClock(now func() time.Time) *Coalescer {
	c.now = now
	return c
}

// OnInboundAccepted queues one deduplicated inbound message. Messages
// arriving while a window is open share its deadline; the first message
// after a window elapsed (or when none exists) opens a new one and
// schedules exactly one processing callback.
func (c *Coalescer) OnInboundAccepted(ctx context.Context, sessionKey, orgID string, msg PendingMessage) error {
	payload, err := encodePending(msg)
	if err != nil {
		return err
	}
	if err := c.store.RPush(ctx, pendingKey(sessionKey), payload); err != nil {
		return fmt.Errorf("queue pending message: %w", err)
	}

	if err := c.sessions.TouchInbound(ctx, sessionKey, msg.Timestamp); err != nil {
		c.log.Warn().Err(err).Str("session_key", sessionKey).Msg("failed to record inbound timestamp")
	}

	armed, err := c.armWindow(ctx, sessionKey, orgID)
	if err != nil {
		return err
	}
	if armed {
		c.log.Debug().
			Str("session_key", sessionKey).
			Dur("delay", c.delay).
			Msg("batch window opened")
	}
	return nil
}

// armWindow opens a new window unless one is already running. Returns
// true when this call scheduled the processing task.
func (c *Coalescer) armWindow(ctx context.Context, sessionKey, orgID string) (bool, error) {
	now := c.now()
	deadline := now.Add(c.delay)

	created, err := c.store.SetNX(ctx, deadlineKey(sessionKey),
		strconv.FormatInt(deadline.UnixMilli(), 10), c.delay)
	if err != nil {
		return false, fmt.Errorf("arm batch window: %w", err)
	}
	if !created {
		// A window exists. Its key may linger briefly past the deadline
		// until the TTL fires; an elapsed window must not swallow the
		// message, so take it over.
		raw, err := c.store.Get(ctx, deadlineKey(sessionKey))
		if err != nil {
			if errors.Is(err, statestore.ErrNotFound) {
				// Expired between SetNX and Get. Retry once.
				return c.armWindow(ctx, sessionKey, orgID)
			}
			return false, fmt.Errorf("read batch window: %w", err)
		}
		millis, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr == nil && time.UnixMilli(millis).After(now) {
			return false, nil
		}
		if err := c.store.Set(ctx, deadlineKey(sessionKey),
			strconv.FormatInt(deadline.UnixMilli(), 10), c.delay); err != nil {
			return false, fmt.Errorf("rearm batch window: %w", err)
		}
	}

	task := scheduler.Task{
		ID:          uuid.NewString(),
		Kind:        scheduler.KindProcessBatch,
		SessionKey:  sessionKey,
		OrgID:       orgID,
		ScheduledAt: now,
	}
	if err := c.queue.Enqueue(ctx, task, deadline); err != nil {
		return false, fmt.Errorf("schedule batch task: %w", err)
	}
	metrics.ScheduledTasksTotal.WithLabelValues(string(scheduler.KindProcessBatch)).Inc()
	return true, nil
}
