// Package message defines the authoritative, durably stored record of
// every inbound and outbound message handled by the engine.
package message

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no message matches the lookup.
var ErrNotFound = errors.New("message: not found")

// Direction indicates who originated the message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status tracks delivery of outbound messages. Inbound messages are
// always received.
type Status string

const (
	StatusReceived       Status = "received"
	StatusPending        Status = "pending"
	StatusSent           Status = "sent"
	StatusDeliveryFailed Status = "delivery_failed"
)

// Message is one durable message record. Inbound messages are keyed
// uniquely by the provider-assigned id; outbound messages carry an
// engine-generated public id and learn their provider id after dispatch.
type Message struct {
	ID            uint      `json:"-"`
	PublicID      string    `json:"id"`
	ProviderID    string    `json:"provider_id,omitempty"`
	SessionKey    string    `json:"session_key"`
	OrgID         string    `json:"org_id"`
	Direction     Direction `json:"direction"`
	Address       string    `json:"address"`
	Text          string    `json:"text"`
	Status        Status    `json:"status"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}
