package entities

import (
	"time"

	"github.com/zapqual/engine/internal/domain/message"
)

// Message represents the database schema for durable message records.
// Inbound rows are keyed uniquely by the provider-assigned id; that
// unique index backs the authoritative half of the idempotency guard.
type Message struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`

	PublicID      string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	ProviderID    string    `gorm:"type:varchar(128);uniqueIndex:ux_message_provider_id,where:provider_id <> ''"`
	SessionKey    string    `gorm:"type:varchar(160);index:idx_message_session_ts;not null"`
	OrgID         string    `gorm:"type:varchar(64);index;not null"`
	Direction     string    `gorm:"type:varchar(10);not null"`
	Address       string    `gorm:"type:varchar(64);not null"`
	Text          string    `gorm:"type:text;not null"`
	Status        string    `gorm:"type:varchar(20);not null"`
	CorrelationID string    `gorm:"type:varchar(64)"`
	FailureReason string    `gorm:"type:text"`
	Timestamp     time.Time `gorm:"index:idx_message_session_ts;not null"`
}

// TableName implements the GORM tabler interface.
func (Message) TableName() string { return "messages" }

// EtoD converts the database entity to the domain model.
func (m *Message) EtoD() *message.Message {
	return &message.Message{
		ID:            m.ID,
		PublicID:      m.PublicID,
		ProviderID:    m.ProviderID,
		SessionKey:    m.SessionKey,
		OrgID:         m.OrgID,
		Direction:     message.Direction(m.Direction),
		Address:       m.Address,
		Text:          m.Text,
		Status:        message.Status(m.Status),
		CorrelationID: m.CorrelationID,
		FailureReason: m.FailureReason,
		Timestamp:     m.Timestamp,
		CreatedAt:     m.CreatedAt,
	}
}

// NewSchemaMessage creates a database entity from the domain model.
func NewSchemaMessage(m *message.Message) *Message {
	return &Message{
		ID:            m.ID,
		PublicID:      m.PublicID,
		ProviderID:    m.ProviderID,
		SessionKey:    m.SessionKey,
		OrgID:         m.OrgID,
		Direction:     string(m.Direction),
		Address:       m.Address,
		Text:          m.Text,
		Status:        string(m.Status),
		CorrelationID: m.CorrelationID,
		FailureReason: m.FailureReason,
		Timestamp:     m.Timestamp,
		CreatedAt:     m.CreatedAt,
	}
}
