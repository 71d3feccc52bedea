package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/dispatch"
	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/infrastructure/gateway"
	"github.com/zapqual/engine/internal/infrastructure/scheduler"
)

// memoryMessages implements message.Repository in memory for tests.
type memoryMessages struct {
	byPublicID map[string]*message.Message
	created    []string
}

func newMemoryMessages() *memoryMessages {
	return &memoryMessages{byPublicID: make(map[string]*message.Message)}
}

func (r *memoryMessages) Create(ctx context.Context, msg *message.Message) error {
	copied := *msg
	r.byPublicID[msg.PublicID] = &copied
	r.created = append(r.created, msg.PublicID)
	return nil
}

func (r *memoryMessages) CreateBatch(ctx context.Context, msgs []*message.Message) error {
	for _, msg := range msgs {
		if err := r.Create(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryMessages) ExistsByProviderID(ctx context.Context, providerID string) (bool, error) {
	for _, msg := range r.byPublicID {
		if msg.ProviderID == providerID && msg.Direction == message.DirectionInbound {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryMessages) GetByPublicID(ctx context.Context, publicID string) (*message.Message, error) {
	msg, ok := r.byPublicID[publicID]
	if !ok {
		return nil, message.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (r *memoryMessages) MarkSent(ctx context.Context, publicID, providerID string) error {
	msg, ok := r.byPublicID[publicID]
	if !ok {
		return message.ErrNotFound
	}
	msg.Status = message.StatusSent
	msg.ProviderID = providerID
	msg.FailureReason = ""
	return nil
}

func (r *memoryMessages) MarkDeliveryFailed(ctx context.Context, publicID, reason string) error {
	msg, ok := r.byPublicID[publicID]
	if !ok {
		return message.ErrNotFound
	}
	msg.Status = message.StatusDeliveryFailed
	msg.FailureReason = reason
	return nil
}

func (r *memoryMessages) ListBySession(ctx context.Context, sessionKey string, limit int) ([]message.Message, error) {
	var out []message.Message
	for _, id := range r.created {
		msg := r.byPublicID[id]
		if msg.SessionKey == sessionKey {
			out = append(out, *msg)
		}
	}
	return out, nil
}

// fakeSender records sends and can be told to fail.
type fakeSender struct {
	sent []string
	err  error
}

func (s *fakeSender) Send(ctx context.Context, to, text string) (*gateway.SendResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, text)
	return &gateway.SendResult{ProviderMessageID: "wamid.out"}, nil
}

func testState() *session.State {
	return session.NewState("org1:551199", "org1", "551199", time.Now())
}

func TestDispatcher_PersistsBeforeSend(t *testing.T) {
	repo := newMemoryMessages()
	sender := &fakeSender{}
	queue := scheduler.NewMemoryQueue()
	d := dispatch.NewDispatcher(repo, sender, queue, time.Minute, zerolog.Nop())

	id, err := d.Dispatch(context.Background(), testState(), "Olá!", "corr-1")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	msg, err := repo.GetByPublicID(context.Background(), id)
	if err != nil {
		t.Fatalf("persisted message missing: %v", err)
	}
	if msg.Status != message.StatusSent {
		t.Errorf("status = %s, want sent", msg.Status)
	}
	if msg.ProviderID != "wamid.out" {
		t.Errorf("provider id = %q, want wamid.out", msg.ProviderID)
	}
	if msg.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %q", msg.CorrelationID)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "Olá!" {
		t.Errorf("sent = %v, want exactly the reply text", sender.sent)
	}
}

func TestDispatcher_FailureKeepsTextAndSchedulesRetry(t *testing.T) {
	repo := newMemoryMessages()
	sender := &fakeSender{err: errors.New("gateway down")}
	queue := scheduler.NewMemoryQueue()
	d := dispatch.NewDispatcher(repo, sender, queue, time.Minute, zerolog.Nop())

	id, err := d.Dispatch(context.Background(), testState(), "Olá!", "corr-1")
	if !errors.Is(err, dispatch.ErrDispatchFailed) {
		t.Fatalf("err = %v, want ErrDispatchFailed", err)
	}
	if id == "" {
		t.Fatal("expected the persisted message id even on failure")
	}

	msg, getErr := repo.GetByPublicID(context.Background(), id)
	if getErr != nil {
		t.Fatalf("persisted message missing after failure: %v", getErr)
	}
	if msg.Status != message.StatusDeliveryFailed {
		t.Errorf("status = %s, want delivery_failed", msg.Status)
	}
	if msg.Text != "Olá!" {
		t.Errorf("text = %q, must stay persisted", msg.Text)
	}

	tasks := queue.Pending()
	if len(tasks) != 1 || tasks[0].Kind != scheduler.KindRetryDelivery {
		t.Fatalf("tasks = %+v, want one retry_delivery", tasks)
	}
	if tasks[0].MessageID != id {
		t.Errorf("retry task message id = %q, want %q", tasks[0].MessageID, id)
	}
}

func TestDispatcher_RetryDelivery(t *testing.T) {
	repo := newMemoryMessages()
	sender := &fakeSender{err: errors.New("gateway down")}
	queue := scheduler.NewMemoryQueue()
	d := dispatch.NewDispatcher(repo, sender, queue, time.Minute, zerolog.Nop())

	id, _ := d.Dispatch(context.Background(), testState(), "Olá!", "corr-1")

	// The gateway recovers; the retry resends the persisted text without
	// regenerating it.
	sender.err = nil
	if err := d.RetryDelivery(context.Background(), id); err != nil {
		t.Fatalf("RetryDelivery: %v", err)
	}

	msg, _ := repo.GetByPublicID(context.Background(), id)
	if msg.Status != message.StatusSent {
		t.Errorf("status after retry = %s, want sent", msg.Status)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "Olá!" {
		t.Errorf("retry sent = %v, want the original text once", sender.sent)
	}
}

func TestDispatcher_RetryDeliveryIsIdempotent(t *testing.T) {
	repo := newMemoryMessages()
	sender := &fakeSender{}
	queue := scheduler.NewMemoryQueue()
	d := dispatch.NewDispatcher(repo, sender, queue, time.Minute, zerolog.Nop())

	id, err := d.Dispatch(context.Background(), testState(), "Olá!", "corr-1")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// The message was already sent; a stale retry task must do nothing.
	if err := d.RetryDelivery(context.Background(), id); err != nil {
		t.Fatalf("RetryDelivery: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sends = %d, want 1 (retry must not resend a sent message)", len(sender.sent))
	}

	// Unknown ids are also a no-op.
	if err := d.RetryDelivery(context.Background(), "out_missing"); err != nil {
		t.Fatalf("RetryDelivery of unknown id: %v", err)
	}
}
