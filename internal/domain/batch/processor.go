package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/dispatch"
	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/domain/org"
	"github.com/zapqual/engine/internal/domain/prompt"
	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/domain/spin"
	"github.com/zapqual/engine/internal/infrastructure/llmprovider"
	"github.com/zapqual/engine/internal/infrastructure/lock"
	"github.com/zapqual/engine/internal/infrastructure/metrics"
	"github.com/zapqual/engine/internal/infrastructure/observability"
	"github.com/zapqual/engine/internal/infrastructure/scheduler"
	"github.com/zapqual/engine/internal/infrastructure/statestore"
)

// Processor runs one batch window end to end under the per-session lock:
// drain, persist, state machine, prompt, one inference call, one reply.
type Processor struct {
	store      statestore.Store
	queue      scheduler.Queue
	locker     lock.Locker
	sessions   *session.Manager
	messages   message.Repository
	orgs       org.Repository
	machine    *spin.Machine
	assembler  *prompt.Assembler
	completer  llmprovider.Completer
	dispatcher *dispatch.Dispatcher

	delay        time.Duration
	lockTTL      time.Duration
	historyLimit int

	log zerolog.Logger
	now func() time.Time
}

// ProcessorDeps bundles the processor's collaborators.
type ProcessorDeps struct {
	Store      statestore.Store
	Queue      scheduler.Queue
	Locker     lock.Locker
	Sessions   *session.Manager
	Messages   message.Repository
	Orgs       org.Repository
	Machine    *spin.Machine
	Assembler  *prompt.Assembler
	Completer  llmprovider.Completer
	Dispatcher *dispatch.Dispatcher
}

// NewProcessor constructs the batch processor.
func NewProcessor(deps ProcessorDeps, delay, lockTTL time.Duration, historyLimit int, log zerolog.Logger) *Processor {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Processor{
		store:        deps.Store,
		queue:        deps.Queue,
		locker:       deps.Locker,
		sessions:     deps.Sessions,
		messages:     deps.Messages,
		orgs:         deps.Orgs,
		machine:      deps.Machine,
		assembler:    deps.Assembler,
		completer:    deps.Completer,
		dispatcher:   deps.Dispatcher,
		delay:        delay,
		lockTTL:      lockTTL,
		historyLimit: historyLimit,
		log:          log.With().Str("component", "batch-processor").Logger(),
		now:          time.Now,
	}
}

// WithClock overrides the processor's clock. Test use only.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Handle routes a claimed scheduler task.
func (p *Processor) Handle(ctx context.Context, task scheduler.Task) error {
	switch task.Kind {
	case scheduler.KindProcessBatch:
		return p.ProcessBatch(ctx, task)
	case scheduler.KindRetryDelivery:
		return p.dispatcher.RetryDelivery(ctx, task.MessageID)
	default:
		p.log.Warn().Str("kind", string(task.Kind)).Msg("unknown task kind dropped")
		return nil
	}
}

// ProcessBatch fires one batch window. Lock contention and stale windows
// are normal outcomes, not errors: the skip leaves the pending list for
// the holder, the re-arm schedules a fresh window.
func (p *Processor) ProcessBatch(ctx context.Context, task scheduler.Task) error {
	logger := p.log.With().Str("session_key", task.SessionKey).Logger()

	lease, acquired, err := p.locker.Acquire(ctx, task.SessionKey, p.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !acquired {
		metrics.LockContentionTotal.Inc()
		logger.Info().Msg("session locked elsewhere, skipping window")
		return nil
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to release session lock")
		}
	}()

	// A message that slipped in after this window was armed means the
	// user is still typing: push the whole batch out by a fresh window
	// instead of replying mid-thought.
	lastInbound, err := p.sessions.LastInboundAt(ctx, task.SessionKey)
	if err != nil {
		return fmt.Errorf("read last inbound timestamp: %w", err)
	}
	if lastInbound.After(task.ScheduledAt) {
		metrics.StaleRearmTotal.Inc()
		logger.Info().
			Time("last_inbound_at", lastInbound).
			Time("window_armed_at", task.ScheduledAt).
			Msg("window stale, rearming")
		return p.rearm(ctx, task)
	}

	if err := p.store.Del(ctx, deadlineKey(task.SessionKey)); err != nil {
		logger.Warn().Err(err).Msg("failed to clear window deadline")
	}

	raw, err := p.store.Drain(ctx, pendingKey(task.SessionKey))
	if err != nil {
		return fmt.Errorf("drain pending messages: %w", err)
	}
	if len(raw) == 0 {
		logger.Debug().Msg("window fired with nothing pending")
		return nil
	}

	pending := make([]PendingMessage, 0, len(raw))
	for _, item := range raw {
		msg, err := decodePending(item)
		if err != nil {
			logger.Error().Err(err).Msg("dropping undecodable pending message")
			continue
		}
		pending = append(pending, msg)
	}
	if len(pending) == 0 {
		return nil
	}

	ctx, span := observability.StartBatchSpan(ctx, task.SessionKey, len(pending))
	defer span.End()
	metrics.BatchSize.Observe(float64(len(pending)))

	state, err := p.sessions.LoadOrCreate(ctx, task.SessionKey, task.OrgID, pending[0].Address)
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("load session: %w", err)
	}

	if err := p.persistInbound(ctx, state, pending); err != nil {
		observability.RecordError(span, err)
		return err
	}

	texts := make([]string, len(pending))
	for i, msg := range pending {
		texts[i] = msg.Text
	}

	now := p.now()
	result := p.machine.Process(state, texts, now)
	if result.StageChanged {
		metrics.StageTransitionsTotal.WithLabelValues(string(result.ToStage)).Inc()
		logger.Info().
			Str("from_stage", string(result.FromStage)).
			Str("to_stage", string(result.ToStage)).
			Int("score", state.Score).
			Msg("stage advanced")
	}
	state.LastInboundAt = latestTimestamp(pending)
	state.Summary = summarize(texts)

	reply, err := p.generateReply(ctx, task, state)
	if err != nil {
		// State is not flushed and the drained messages go back to the
		// front of the pending list, so the next inbound message reopens
		// a window and retries with the same batch included.
		observability.RecordError(span, err)
		p.requeue(ctx, task.SessionKey, pending, logger)
		return err
	}

	_, dispatchErr := p.dispatcher.Dispatch(ctx, state, reply, pending[0].CorrelationID)
	if dispatchErr != nil && !errors.Is(dispatchErr, dispatch.ErrDispatchFailed) {
		observability.RecordError(span, dispatchErr)
		return dispatchErr
	}

	// Delivery failure does not roll back the turn: the text is persisted
	// and retried, and the stage, facts and score advances stand.
	if err := p.sessions.Flush(ctx, state); err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("flush session: %w", err)
	}

	if p.machine.Qualified(state) {
		logger.Info().Int("score", state.Score).Msg("session qualified")
	}
	return dispatchErr
}

func (p *Processor) generateReply(ctx context.Context, task scheduler.Task, state *session.State) (string, error) {
	instructions := ""
	if task.OrgID != "" {
		record, err := p.orgs.GetByID(ctx, task.OrgID)
		switch {
		case err == nil:
			instructions = record.Instructions
		case errors.Is(err, org.ErrNotFound):
			// Tenant without a methodology document, base prompt only.
		default:
			return "", fmt.Errorf("load org instructions: %w", err)
		}
	}

	history, err := p.messages.ListBySession(ctx, task.SessionKey, p.historyLimit)
	if err != nil {
		return "", fmt.Errorf("load conversation history: %w", err)
	}

	rendered, err := p.assembler.Build(history, state, instructions)
	if err != nil {
		return "", fmt.Errorf("assemble prompt: %w", err)
	}

	ctx, span := observability.StartInferenceSpan(ctx, task.SessionKey)
	defer span.End()

	start := p.now()
	reply, err := p.completer.Complete(ctx, rendered)
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RecordError(span, err)
		return "", fmt.Errorf("inference: %w", err)
	}
	return reply, nil
}

func (p *Processor) persistInbound(ctx context.Context, state *session.State, pending []PendingMessage) error {
	records := make([]*message.Message, 0, len(pending))
	for _, msg := range pending {
		if msg.Persisted {
			continue
		}
		records = append(records, &message.Message{
			PublicID:      "in_" + uuid.NewString(),
			ProviderID:    msg.ProviderID,
			SessionKey:    state.SessionKey,
			OrgID:         state.OrgID,
			Direction:     message.DirectionInbound,
			Address:       msg.Address,
			Text:          msg.Text,
			Status:        message.StatusReceived,
			CorrelationID: msg.CorrelationID,
			Timestamp:     msg.Timestamp,
		})
	}
	if err := p.messages.CreateBatch(ctx, records); err != nil {
		return fmt.Errorf("persist inbound batch: %w", err)
	}
	return nil
}

// rearm schedules a fresh window for a stale batch without touching the
// pending list.
func (p *Processor) rearm(ctx context.Context, task scheduler.Task) error {
	now := p.now()
	deadline := now.Add(p.delay)

	if err := p.store.Set(ctx, deadlineKey(task.SessionKey),
		strconv.FormatInt(deadline.UnixMilli(), 10), p.delay); err != nil {
		return fmt.Errorf("rearm window deadline: %w", err)
	}

	next := scheduler.Task{
		ID:          uuid.NewString(),
		Kind:        scheduler.KindProcessBatch,
		SessionKey:  task.SessionKey,
		OrgID:       task.OrgID,
		ScheduledAt: now,
	}
	if err := p.queue.Enqueue(ctx, next, deadline); err != nil {
		return fmt.Errorf("reschedule batch task: %w", err)
	}
	metrics.ScheduledTasksTotal.WithLabelValues(string(scheduler.KindProcessBatch)).Inc()
	return nil
}

// requeue puts drained messages back at the front of the pending list in
// their original order, marked persisted so retries do not double-insert.
func (p *Processor) requeue(ctx context.Context, sessionKey string, pending []PendingMessage, logger zerolog.Logger) {
	payloads := make([]string, 0, len(pending))
	for _, msg := range pending {
		msg.Persisted = true
		payload, err := encodePending(msg)
		if err != nil {
			logger.Error().Err(err).Msg("failed to re-encode pending message")
			continue
		}
		payloads = append(payloads, payload)
	}
	if len(payloads) == 0 {
		return
	}
	if err := p.store.LPush(ctx, pendingKey(sessionKey), payloads...); err != nil {
		logger.Error().Err(err).Msg("failed to requeue drained batch")
	}
}

func latestTimestamp(pending []PendingMessage) time.Time {
	var latest time.Time
	for _, msg := range pending {
		if msg.Timestamp.After(latest) {
			latest = msg.Timestamp
		}
	}
	return latest
}

// summarize keeps a short tail of the latest inbound text as the session
// summary shown in projections. Truncation backs up to a rune boundary so
// accented text is never cut mid-sequence.
func summarize(texts []string) string {
	const maxLen = 160
	last := texts[len(texts)-1]
	if len(last) <= maxLen {
		return last
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(last[cut]) {
		cut--
	}
	return last[:cut]
}
