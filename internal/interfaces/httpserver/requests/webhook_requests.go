package requests

// EventTypeMessageReceived is the only event type that carries work for
// the engine. Other types sharing the webhook URL (delivery receipts,
// status callbacks) are acknowledged and dropped.
const EventTypeMessageReceived = "message.received"

// InboundMessage is one message inside a webhook event.
type InboundMessage struct {
	ID        string `json:"id" binding:"required"`
	From      string `json:"from" binding:"required"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// WebhookEvent is the gateway's delivery envelope, discriminated by Type.
// The gateway may retry the same envelope; message ids are the
// idempotency keys. OrgID and Messages are validated in the handler
// because only the message.received type requires them.
type WebhookEvent struct {
	Type     string           `json:"type" binding:"required"`
	OrgID    string           `json:"org_id"`
	Messages []InboundMessage `json:"messages" binding:"omitempty,dive"`
}
