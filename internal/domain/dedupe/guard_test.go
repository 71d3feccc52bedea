package dedupe_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/dedupe"
	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/infrastructure/statestore"
)

// fakeMessages implements message.Repository backed by a provider-id set.
type fakeMessages struct {
	known map[string]bool
	err   error
}

func (f *fakeMessages) ExistsByProviderID(ctx context.Context, providerID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[providerID], nil
}

func (f *fakeMessages) Create(ctx context.Context, msg *message.Message) error        { return nil }
func (f *fakeMessages) CreateBatch(ctx context.Context, msgs []*message.Message) error { return nil }
func (f *fakeMessages) GetByPublicID(ctx context.Context, publicID string) (*message.Message, error) {
	return nil, message.ErrNotFound
}
func (f *fakeMessages) MarkSent(ctx context.Context, publicID, providerID string) error { return nil }
func (f *fakeMessages) MarkDeliveryFailed(ctx context.Context, publicID, reason string) error {
	return nil
}
func (f *fakeMessages) ListBySession(ctx context.Context, sessionKey string, limit int) ([]message.Message, error) {
	return nil, nil
}

func TestGuard_IsDuplicate(t *testing.T) {
	store := statestore.NewMemory()
	guard := dedupe.NewGuard(store, &fakeMessages{known: map[string]bool{}}, 10*time.Minute, zerolog.Nop())
	ctx := context.Background()

	dup, err := guard.IsDuplicate(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if dup {
		t.Error("first delivery flagged as duplicate")
	}

	dup, err = guard.IsDuplicate(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !dup {
		t.Error("retry of same provider id not flagged as duplicate")
	}
}

func TestGuard_ConcurrentDeliveriesAdmitOne(t *testing.T) {
	store := statestore.NewMemory()
	guard := dedupe.NewGuard(store, &fakeMessages{known: map[string]bool{}}, 10*time.Minute, zerolog.Nop())
	ctx := context.Background()

	const deliveries = 16
	results := make(chan bool, deliveries)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			dup, err := guard.IsDuplicate(ctx, "wamid.race")
			if err != nil {
				t.Errorf("concurrent check: %v", err)
				return
			}
			results <- dup
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	accepted := 0
	for dup := range results {
		if !dup {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("accepted = %d, want exactly one winner across concurrent deliveries", accepted)
	}
}

func TestGuard_ForgetAdmitsRetryAfterFailedIntake(t *testing.T) {
	store := statestore.NewMemory()
	guard := dedupe.NewGuard(store, &fakeMessages{known: map[string]bool{}}, 10*time.Minute, zerolog.Nop())
	ctx := context.Background()

	dup, err := guard.IsDuplicate(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if dup {
		t.Fatal("first delivery flagged as duplicate")
	}

	// Queuing the message failed downstream, nothing was stored. Releasing
	// the marker must let the gateway's retry through.
	if err := guard.Forget(ctx, "wamid.1"); err != nil {
		t.Fatalf("forget: %v", err)
	}

	dup, err = guard.IsDuplicate(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("retry check: %v", err)
	}
	if dup {
		t.Error("retry after failed intake misclassified as duplicate")
	}
}

func TestGuard_DurableCheckFailureRollsBackMarker(t *testing.T) {
	store := statestore.NewMemory()
	messages := &fakeMessages{known: map[string]bool{}, err: context.DeadlineExceeded}
	guard := dedupe.NewGuard(store, messages, 10*time.Minute, zerolog.Nop())
	ctx := context.Background()

	if _, err := guard.IsDuplicate(ctx, "wamid.flaky"); err == nil {
		t.Fatal("expected an error while the durable store is down")
	}

	// The durable store recovers; the earlier failed check must not have
	// left a marker behind.
	messages.err = nil
	dup, err := guard.IsDuplicate(ctx, "wamid.flaky")
	if err != nil {
		t.Fatalf("check after recovery: %v", err)
	}
	if dup {
		t.Error("message rejected by a marker left over from a failed check")
	}
}

func TestGuard_DurableFallbackBeyondMarkerTTL(t *testing.T) {
	store := statestore.NewMemory()
	messages := &fakeMessages{known: map[string]bool{"wamid.old": true}}
	guard := dedupe.NewGuard(store, messages, 10*time.Minute, zerolog.Nop())

	// No marker exists anymore, but the durable record remembers.
	dup, err := guard.IsDuplicate(context.Background(), "wamid.old")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Error("message known to the durable store not flagged as duplicate")
	}
}

func TestGuard_DegradesToDurableWhenStoreDown(t *testing.T) {
	store := statestore.NewMemory()
	store.Fail = true
	messages := &fakeMessages{known: map[string]bool{"wamid.seen": true}}
	guard := dedupe.NewGuard(store, messages, 10*time.Minute, zerolog.Nop())
	ctx := context.Background()

	dup, err := guard.IsDuplicate(ctx, "wamid.seen")
	if err != nil {
		t.Fatalf("degraded check: %v", err)
	}
	if !dup {
		t.Error("durable-only check missed a known message")
	}

	dup, err = guard.IsDuplicate(ctx, "wamid.new")
	if err != nil {
		t.Fatalf("degraded check of new message: %v", err)
	}
	if dup {
		t.Error("new message flagged as duplicate in degraded mode")
	}
}

func TestGuard_FailsClosedWhenBothStoresDown(t *testing.T) {
	store := statestore.NewMemory()
	store.Fail = true
	messages := &fakeMessages{err: context.DeadlineExceeded}
	guard := dedupe.NewGuard(store, messages, 10*time.Minute, zerolog.Nop())

	if _, err := guard.IsDuplicate(context.Background(), "wamid.x"); err == nil {
		t.Fatal("expected an error when neither store can answer")
	}
}

func TestGuard_RejectsEmptyID(t *testing.T) {
	guard := dedupe.NewGuard(statestore.NewMemory(), &fakeMessages{known: map[string]bool{}}, time.Minute, zerolog.Nop())
	if _, err := guard.IsDuplicate(context.Background(), ""); err == nil {
		t.Fatal("expected an error for an empty provider message id")
	}
}
