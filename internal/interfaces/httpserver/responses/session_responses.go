package responses

import (
	"time"

	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/domain/session"
)

// AcceptedMessage reports the intake outcome of one webhook message.
type AcceptedMessage struct {
	ProviderMessageID string `json:"provider_message_id"`
	Duplicate         bool   `json:"duplicate"`
	CorrelationID     string `json:"correlation_id,omitempty"`
}

// WebhookAccepted is the 202 payload of the webhook endpoint.
type WebhookAccepted struct {
	Results []AcceptedMessage `json:"results"`
}

// SessionPayload is the read-only projection of a session.
type SessionPayload struct {
	SessionKey     string        `json:"session_key"`
	OrgID          string        `json:"org_id"`
	ContactAddress string        `json:"contact_address"`
	Stage          string        `json:"stage"`
	Score          int           `json:"score"`
	Qualified      bool          `json:"qualified"`
	Facts          session.Facts `json:"facts"`
	AskedTopics    []string      `json:"asked_topics,omitempty"`
	AnsweredTopics []string      `json:"answered_topics,omitempty"`
	Summary        string        `json:"summary,omitempty"`
	LastInboundAt  time.Time     `json:"last_inbound_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// SessionFromDomain maps a session state to its projection.
func SessionFromDomain(state *session.State, qualified bool) SessionPayload {
	return SessionPayload{
		SessionKey:     state.SessionKey,
		OrgID:          state.OrgID,
		ContactAddress: state.ContactAddress,
		Stage:          string(state.Stage),
		Score:          state.Score,
		Qualified:      qualified,
		Facts:          state.Facts,
		AskedTopics:    state.AskedTopics,
		AnsweredTopics: state.AnsweredTopics,
		Summary:        state.Summary,
		LastInboundAt:  state.LastInboundAt,
		UpdatedAt:      state.UpdatedAt,
	}
}

// MessagePayload is the read-only projection of one stored message.
type MessagePayload struct {
	ID            string    `json:"id"`
	ProviderID    string    `json:"provider_id,omitempty"`
	Direction     string    `json:"direction"`
	Text          string    `json:"text"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// MessageListResponse wraps a session's message history.
type MessageListResponse struct {
	Data []MessagePayload `json:"data"`
}

// MessagesFromDomain maps stored messages to their projections.
func MessagesFromDomain(msgs []message.Message) MessageListResponse {
	out := MessageListResponse{Data: make([]MessagePayload, 0, len(msgs))}
	for _, msg := range msgs {
		out.Data = append(out.Data, MessagePayload{
			ID:            msg.PublicID,
			ProviderID:    msg.ProviderID,
			Direction:     string(msg.Direction),
			Text:          msg.Text,
			Status:        string(msg.Status),
			FailureReason: msg.FailureReason,
			Timestamp:     msg.Timestamp,
		})
	}
	return out
}
