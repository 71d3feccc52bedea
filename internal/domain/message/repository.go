package message

import "context"

// Repository persists messages in the durable store. Records are created
// once and never deleted by the engine.
type Repository interface {
	// Create inserts a single message.
	Create(ctx context.Context, msg *Message) error

	// CreateBatch inserts inbound messages in arrival order.
	CreateBatch(ctx context.Context, msgs []*Message) error

	// ExistsByProviderID reports whether an inbound message with the
	// provider-assigned id was already stored. This is the authoritative
	// duplicate check behind the state-store fast path.
	ExistsByProviderID(ctx context.Context, providerID string) (bool, error)

	// GetByPublicID loads a message by its engine-assigned id.
	GetByPublicID(ctx context.Context, publicID string) (*Message, error)

	// MarkSent records successful dispatch and the provider's id for the
	// outbound message.
	MarkSent(ctx context.Context, publicID, providerID string) error

	// MarkDeliveryFailed records a failed dispatch while keeping the
	// generated text for a later delivery retry.
	MarkDeliveryFailed(ctx context.Context, publicID, reason string) error

	// ListBySession returns the most recent messages of a session in
	// chronological order.
	ListBySession(ctx context.Context, sessionKey string, limit int) ([]Message, error)
}
