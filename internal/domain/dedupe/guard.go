// Package dedupe implements the idempotency guard in front of the
// webhook. Gateway retries must be treated as ordinary duplicates, never
// as errors, and a false "not duplicate" directly duplicates the
// downstream inference call and reply.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/infrastructure/statestore"
)

const markerPrefix = "dedupe:msg:"

// Guard decides whether a provider message id has already been accepted.
type Guard struct {
	store    statestore.Store
	messages message.Repository
	ttl      time.Duration
	log      zerolog.Logger
}

// NewGuard constructs the guard. The marker TTL should cover the longest
// plausible gateway retry window.
func NewGuard(store statestore.Store, messages message.Repository, ttl time.Duration, log zerolog.Logger) *Guard {
	return &Guard{
		store:    store,
		messages: messages,
		ttl:      ttl,
		log:      log.With().Str("component", "dedupe-guard").Logger(),
	}
}

// IsDuplicate reports whether the provider message id was seen before.
//
// SetNX on the marker key is the single arbiter for concurrent
// deliveries: exactly one caller wins the write and proceeds. The durable
// store is consulted afterwards to recover correctness when the marker
// expired or was lost, since the durable record has no TTL.
//
// When the state store is unreachable the guard degrades to the
// durable-only check. It never fails open: if neither store can answer,
// the error propagates and the webhook reports failure so the gateway
// retries later.
func (g *Guard) IsDuplicate(ctx context.Context, providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, fmt.Errorf("provider message id is empty")
	}

	created, err := g.store.SetNX(ctx, markerPrefix+providerMessageID, "1", g.ttl)
	if err != nil {
		if !errors.Is(err, statestore.ErrUnavailable) {
			return false, fmt.Errorf("dedupe marker: %w", err)
		}
		g.log.Warn().Str("provider_message_id", providerMessageID).
			Msg("state store unreachable, degrading to durable-only dedupe check")
		return g.durableCheck(ctx, providerMessageID)
	}

	if !created {
		// Marker already present: a concurrent or earlier delivery won.
		return true, nil
	}

	// Fast path says new; the durable record is authoritative beyond the
	// marker TTL horizon.
	exists, err := g.durableCheck(ctx, providerMessageID)
	if err != nil {
		// The marker was just written but intake is about to fail. Drop it
		// so the gateway's retry is not misread as a duplicate.
		if delErr := g.store.Del(ctx, markerPrefix+providerMessageID); delErr != nil {
			g.log.Warn().Err(delErr).Str("provider_message_id", providerMessageID).
				Msg("failed to roll back dedupe marker")
		}
		return false, err
	}
	return exists, nil
}

// Forget removes the fast-path marker for a provider message id. Intake
// calls it when queuing the message fails after the dedupe check passed,
// so the gateway's retry of a message that was never stored is admitted
// instead of being misclassified as a duplicate. An unreachable store is
// tolerated: the marker carries a TTL and the durable record, which the
// failed intake never wrote, decides beyond it.
func (g *Guard) Forget(ctx context.Context, providerMessageID string) error {
	if providerMessageID == "" {
		return nil
	}
	if err := g.store.Del(ctx, markerPrefix+providerMessageID); err != nil && !errors.Is(err, statestore.ErrUnavailable) {
		return fmt.Errorf("forget dedupe marker: %w", err)
	}
	return nil
}

func (g *Guard) durableCheck(ctx context.Context, providerMessageID string) (bool, error) {
	exists, err := g.messages.ExistsByProviderID(ctx, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("durable dedupe check: %w", err)
	}
	return exists, nil
}
