package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no durable snapshot exists for a session.
var ErrNotFound = errors.New("session: not found")

// Repository persists authoritative session snapshots. The live mirror in
// the state store is always reconcilable from, and eventually flushed to,
// this copy.
type Repository interface {
	// GetByKey loads the snapshot for a session key, or ErrNotFound.
	GetByKey(ctx context.Context, sessionKey string) (*State, error)

	// Save upserts a snapshot keyed by SessionKey.
	Save(ctx context.Context, state *State) error
}
