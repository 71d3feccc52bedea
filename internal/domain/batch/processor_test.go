package batch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/batch"
	"github.com/zapqual/engine/internal/domain/dispatch"
	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/domain/org"
	"github.com/zapqual/engine/internal/domain/prompt"
	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/domain/spin"
	"github.com/zapqual/engine/internal/infrastructure/gateway"
	"github.com/zapqual/engine/internal/infrastructure/lock"
	"github.com/zapqual/engine/internal/infrastructure/scheduler"
	"github.com/zapqual/engine/internal/infrastructure/statestore"
)

type recordingMessages struct {
	byPublicID map[string]*message.Message
	order      []string
}

func newRecordingMessages() *recordingMessages {
	return &recordingMessages{byPublicID: make(map[string]*message.Message)}
}

func (r *recordingMessages) Create(ctx context.Context, msg *message.Message) error {
	copied := *msg
	r.byPublicID[msg.PublicID] = &copied
	r.order = append(r.order, msg.PublicID)
	return nil
}

func (r *recordingMessages) CreateBatch(ctx context.Context, msgs []*message.Message) error {
	for _, msg := range msgs {
		if err := r.Create(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *recordingMessages) ExistsByProviderID(ctx context.Context, providerID string) (bool, error) {
	for _, msg := range r.byPublicID {
		if msg.ProviderID == providerID && msg.Direction == message.DirectionInbound {
			return true, nil
		}
	}
	return false, nil
}

func (r *recordingMessages) GetByPublicID(ctx context.Context, publicID string) (*message.Message, error) {
	msg, ok := r.byPublicID[publicID]
	if !ok {
		return nil, message.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (r *recordingMessages) MarkSent(ctx context.Context, publicID, providerID string) error {
	msg, ok := r.byPublicID[publicID]
	if !ok {
		return message.ErrNotFound
	}
	msg.Status = message.StatusSent
	msg.ProviderID = providerID
	return nil
}

func (r *recordingMessages) MarkDeliveryFailed(ctx context.Context, publicID, reason string) error {
	msg, ok := r.byPublicID[publicID]
	if !ok {
		return message.ErrNotFound
	}
	msg.Status = message.StatusDeliveryFailed
	msg.FailureReason = reason
	return nil
}

func (r *recordingMessages) ListBySession(ctx context.Context, sessionKey string, limit int) ([]message.Message, error) {
	var out []message.Message
	for _, id := range r.order {
		msg := r.byPublicID[id]
		if msg.SessionKey == sessionKey {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (r *recordingMessages) inbound() []*message.Message {
	var out []*message.Message
	for _, id := range r.order {
		if msg := r.byPublicID[id]; msg.Direction == message.DirectionInbound {
			out = append(out, msg)
		}
	}
	return out
}

func (r *recordingMessages) outbound() []*message.Message {
	var out []*message.Message
	for _, id := range r.order {
		if msg := r.byPublicID[id]; msg.Direction == message.DirectionOutbound {
			out = append(out, msg)
		}
	}
	return out
}

type memorySessions struct {
	states map[string]*session.State
	saves  int
}

func newMemorySessions() *memorySessions {
	return &memorySessions{states: make(map[string]*session.State)}
}

func (r *memorySessions) GetByKey(ctx context.Context, sessionKey string) (*session.State, error) {
	state, ok := r.states[sessionKey]
	if !ok {
		return nil, session.ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (r *memorySessions) Save(ctx context.Context, state *session.State) error {
	copied := *state
	r.states[state.SessionKey] = &copied
	r.saves++
	return nil
}

type staticOrgs struct {
	instructions string
}

func (r *staticOrgs) GetByID(ctx context.Context, orgID string) (*org.Org, error) {
	if r.instructions == "" {
		return nil, org.ErrNotFound
	}
	return &org.Org{ID: orgID, Name: "Org", Instructions: r.instructions}, nil
}

type stubSender struct {
	sent []string
	err  error
}

func (s *stubSender) Send(ctx context.Context, to, text string) (*gateway.SendResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, text)
	return &gateway.SendResult{ProviderMessageID: "wamid.out"}, nil
}

type stubCompleter struct {
	prompts []string
	reply   string
	err     error
}

func (c *stubCompleter) Complete(ctx context.Context, promptText string) (string, error) {
	c.prompts = append(c.prompts, promptText)
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

type harness struct {
	store      *statestore.Memory
	queue      *scheduler.MemoryQueue
	locker     *lock.Memory
	sessions   *session.Manager
	sessRepo   *memorySessions
	messages   *recordingMessages
	sender     *stubSender
	completer  *stubCompleter
	coalescer  *batch.Coalescer
	processor  *batch.Processor
	clock      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     statestore.NewMemory(),
		queue:     scheduler.NewMemoryQueue(),
		locker:    lock.NewMemory(),
		sessRepo:  newMemorySessions(),
		messages:  newRecordingMessages(),
		sender:    &stubSender{},
		completer: &stubCompleter{reply: "Certo, me conta mais!"},
		clock:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return h.clock }
	h.store.Now = now

	h.sessions = session.NewManager(h.store, h.sessRepo, zerolog.Nop()).WithClock(now)
	h.coalescer = batch.NewCoalescer(h.store, h.queue, h.sessions, 120*time.Second, zerolog.Nop()).WithClock(now)

	engine, err := prompt.NewEngine(8)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	assembler := prompt.NewAssembler(engine).WithClock(now)
	machine := spin.NewMachine(spin.NewKeywordClassifier(), spin.NewRegexExtractor(), spin.DefaultScoreConfig())
	dispatcher := dispatch.NewDispatcher(h.messages, h.sender, h.queue, time.Minute, zerolog.Nop()).WithClock(now)

	h.processor = batch.NewProcessor(batch.ProcessorDeps{
		Store:      h.store,
		Queue:      h.queue,
		Locker:     h.locker,
		Sessions:   h.sessions,
		Messages:   h.messages,
		Orgs:       &staticOrgs{},
		Machine:    machine,
		Assembler:  assembler,
		Completer:  h.completer,
		Dispatcher: dispatcher,
	}, 120*time.Second, 90*time.Second, 50, zerolog.Nop()).WithClock(now)

	return h
}

func (h *harness) accept(t *testing.T, id, text string) {
	t.Helper()
	msg := pendingMessage(id, text, h.clock)
	if err := h.coalescer.OnInboundAccepted(context.Background(), testSessionKey, testOrgID, msg); err != nil {
		t.Fatalf("OnInboundAccepted(%s): %v", id, err)
	}
}

func (h *harness) fire(t *testing.T) error {
	t.Helper()
	task, err := h.queue.Claim(context.Background(), h.clock)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if task == nil {
		t.Fatal("no due task to fire")
	}
	return h.processor.Handle(context.Background(), *task)
}

func TestProcessor_HappyPath(t *testing.T) {
	h := newHarness(t)

	// Both messages land in the same instant so the window is quiet when
	// it fires.
	h.accept(t, "m1", "Oi, me chamo Ana")
	h.accept(t, "m2", "É pra mim mesmo, uso pessoal")

	h.clock = h.clock.Add(120 * time.Second)
	if err := h.fire(t); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	inbound := h.messages.inbound()
	if len(inbound) != 2 {
		t.Fatalf("persisted inbound = %d, want 2", len(inbound))
	}
	if inbound[0].ProviderID != "m1" || inbound[1].ProviderID != "m2" {
		t.Errorf("inbound order = %s, %s", inbound[0].ProviderID, inbound[1].ProviderID)
	}

	outbound := h.messages.outbound()
	if len(outbound) != 1 {
		t.Fatalf("outbound = %d, want exactly one reply", len(outbound))
	}
	if outbound[0].Status != message.StatusSent {
		t.Errorf("reply status = %s, want sent", outbound[0].Status)
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sends = %d, want 1", len(h.sender.sent))
	}

	// One inference call saw both texts.
	if len(h.completer.prompts) != 1 {
		t.Fatalf("inference calls = %d, want 1", len(h.completer.prompts))
	}

	// Session advanced facts and was flushed durably.
	if h.sessRepo.saves != 1 {
		t.Errorf("durable session saves = %d, want 1", h.sessRepo.saves)
	}
	saved := h.sessRepo.states[testSessionKey]
	if saved == nil {
		t.Fatal("session snapshot missing")
	}
	if saved.Facts.Name != "Ana" || saved.Facts.PersonType != session.PersonIndividual {
		t.Errorf("facts = %+v", saved.Facts)
	}

	// The pending list is consumed.
	length, _ := h.store.LLen(context.Background(), "batch:pending:"+testSessionKey)
	if length != 0 {
		t.Errorf("pending after processing = %d, want 0", length)
	}
}

func TestProcessor_LockContentionSkips(t *testing.T) {
	h := newHarness(t)

	h.accept(t, "m1", "oi")
	h.clock = h.clock.Add(120 * time.Second)

	// Another worker holds the session.
	lease, ok, err := h.locker.Acquire(context.Background(), testSessionKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}
	defer lease.Release(context.Background())

	if err := h.fire(t); err != nil {
		t.Fatalf("contended fire returned error: %v", err)
	}

	if len(h.sender.sent) != 0 {
		t.Error("contended window must not dispatch")
	}
	length, _ := h.store.LLen(context.Background(), "batch:pending:"+testSessionKey)
	if length != 1 {
		t.Errorf("pending after skip = %d, want untouched 1", length)
	}
}

func TestProcessor_StaleWindowRearms(t *testing.T) {
	h := newHarness(t)

	h.accept(t, "m1", "oi")

	// A second message arrives just before the deadline.
	h.clock = h.clock.Add(119 * time.Second)
	h.accept(t, "m2", "mais uma coisa")

	h.clock = h.clock.Add(1 * time.Second)
	if err := h.fire(t); err != nil {
		t.Fatalf("stale fire: %v", err)
	}

	if len(h.sender.sent) != 0 {
		t.Error("stale window must not dispatch")
	}
	if len(h.completer.prompts) != 0 {
		t.Error("stale window must not run inference")
	}

	tasks := h.queue.Pending()
	if len(tasks) != 1 {
		t.Fatalf("tasks after rearm = %d, want 1 fresh window", len(tasks))
	}

	// The re-armed window fires quietly and processes both messages.
	h.clock = h.clock.Add(120 * time.Second)
	if err := h.fire(t); err != nil {
		t.Fatalf("rearmed fire: %v", err)
	}
	if len(h.messages.inbound()) != 2 {
		t.Errorf("inbound persisted = %d, want both messages together", len(h.messages.inbound()))
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sends = %d, want exactly one reply for the batch", len(h.sender.sent))
	}
}

func TestProcessor_InferenceFailureRequeues(t *testing.T) {
	h := newHarness(t)
	h.completer.err = errors.New("model overloaded")

	h.accept(t, "m1", "oi")
	h.clock = h.clock.Add(120 * time.Second)

	if err := h.fire(t); err == nil {
		t.Fatal("expected the inference failure to propagate")
	}

	if len(h.sender.sent) != 0 {
		t.Error("failed inference must not dispatch")
	}
	if h.sessRepo.saves != 0 {
		t.Error("failed inference must not flush session state")
	}

	// The batch went back to the pending list; the next message retries
	// it in arrival order without re-inserting durable rows.
	length, _ := h.store.LLen(context.Background(), "batch:pending:"+testSessionKey)
	if length != 1 {
		t.Fatalf("requeued pending = %d, want 1", length)
	}

	h.completer.err = nil
	h.accept(t, "m2", "ainda ai?")
	h.clock = h.clock.Add(120 * time.Second)
	if err := h.fire(t); err != nil {
		t.Fatalf("retry fire: %v", err)
	}

	inbound := h.messages.inbound()
	if len(inbound) != 2 {
		t.Fatalf("inbound persisted = %d, want 2 without duplicates", len(inbound))
	}
	if inbound[0].ProviderID != "m1" || inbound[1].ProviderID != "m2" {
		t.Errorf("retry order = %s, %s, want m1 then m2", inbound[0].ProviderID, inbound[1].ProviderID)
	}
	if len(h.completer.prompts) != 2 {
		t.Errorf("inference calls = %d, want failed + retried", len(h.completer.prompts))
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sends = %d, want 1", len(h.sender.sent))
	}
}

func TestProcessor_DispatchFailureKeepsStateAdvances(t *testing.T) {
	h := newHarness(t)
	h.sender.err = errors.New("gateway down")

	h.accept(t, "m1", "Me chamo Ana, uso pessoal")
	h.clock = h.clock.Add(120 * time.Second)

	err := h.fire(t)
	if !errors.Is(err, dispatch.ErrDispatchFailed) {
		t.Fatalf("err = %v, want ErrDispatchFailed", err)
	}

	// The generated text is persisted for retry and the session advance
	// stands.
	outbound := h.messages.outbound()
	if len(outbound) != 1 || outbound[0].Status != message.StatusDeliveryFailed {
		t.Fatalf("outbound = %+v, want one delivery_failed record", outbound)
	}
	if outbound[0].Text == "" {
		t.Error("persisted reply text is empty")
	}
	if h.sessRepo.saves != 1 {
		t.Errorf("session saves = %d, delivery failure must not roll back state", h.sessRepo.saves)
	}

	// A delivery retry task was scheduled; inference must not rerun.
	tasks := h.queue.Pending()
	if len(tasks) != 1 || tasks[0].Kind != scheduler.KindRetryDelivery {
		t.Fatalf("tasks = %+v, want one retry_delivery", tasks)
	}
	h.sender.err = nil
	h.clock = h.clock.Add(2 * time.Minute)
	if err := h.fire(t); err != nil {
		t.Fatalf("retry task: %v", err)
	}
	if len(h.completer.prompts) != 1 {
		t.Errorf("inference calls = %d, retry must resend persisted text", len(h.completer.prompts))
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sends = %d, want the persisted text sent once", len(h.sender.sent))
	}
}

func TestProcessor_EmptyWindowIsNoOp(t *testing.T) {
	h := newHarness(t)

	task := scheduler.Task{
		ID:          "t1",
		Kind:        scheduler.KindProcessBatch,
		SessionKey:  testSessionKey,
		OrgID:       testOrgID,
		ScheduledAt: h.clock,
	}
	if err := h.processor.Handle(context.Background(), task); err != nil {
		t.Fatalf("empty window: %v", err)
	}
	if len(h.sender.sent) != 0 || len(h.completer.prompts) != 0 {
		t.Error("empty window must not produce side effects")
	}
}
