// Package batch coalesces inbound messages into per-session windows and
// processes each window as one unit: one state-machine pass, one
// inference call, one outbound reply.
package batch

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	pendingKeyPrefix  = "batch:pending:"
	deadlineKeyPrefix = "batch:deadline:"
)

// PendingMessage is the queued form of an accepted inbound message,
// serialized into the per-session pending list until the window fires.
type PendingMessage struct {
	ProviderID    string    `json:"provider_id"`
	Address       string    `json:"address"`
	Text          string    `json:"text"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	// Persisted is set when the message already reached the durable
	// store, so a re-queued batch does not insert it twice.
	Persisted bool `json:"persisted,omitempty"`
}

func encodePending(msg PendingMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal pending message: %w", err)
	}
	return string(payload), nil
}

func decodePending(raw string) (PendingMessage, error) {
	var msg PendingMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return PendingMessage{}, fmt.Errorf("unmarshal pending message: %w", err)
	}
	return msg, nil
}

func pendingKey(sessionKey string) string  { return pendingKeyPrefix + sessionKey }
func deadlineKey(sessionKey string) string { return deadlineKeyPrefix + sessionKey }
