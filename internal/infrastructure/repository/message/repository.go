package message

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	domain "github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/infrastructure/database/entities"
)

// PostgresRepository persists messages with GORM.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository constructs the message repository.
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a single message.
func (r *PostgresRepository) Create(ctx context.Context, msg *domain.Message) error {
	entity := entities.NewSchemaMessage(msg)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	msg.ID = entity.ID
	return nil
}

// CreateBatch inserts inbound messages in arrival order.
func (r *PostgresRepository) CreateBatch(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	rows := make([]entities.Message, 0, len(msgs))
	for _, msg := range msgs {
		rows = append(rows, *entities.NewSchemaMessage(msg))
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("create message batch: %w", err)
	}
	for i := range msgs {
		msgs[i].ID = rows[i].ID
	}
	return nil
}

// ExistsByProviderID reports whether an inbound message with the
// provider id was already stored.
func (r *PostgresRepository) ExistsByProviderID(ctx context.Context, providerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entities.Message{}).
		Where("provider_id = ? AND direction = ?", providerID, string(domain.DirectionInbound)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count messages by provider id: %w", err)
	}
	return count > 0, nil
}

// GetByPublicID loads a message by its engine-assigned id.
func (r *PostgresRepository) GetByPublicID(ctx context.Context, publicID string) (*domain.Message, error) {
	var entity entities.Message
	err := r.db.WithContext(ctx).
		Where("public_id = ?", publicID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return entity.EtoD(), nil
}

// MarkSent records successful dispatch and the provider's message id.
func (r *PostgresRepository) MarkSent(ctx context.Context, publicID, providerID string) error {
	result := r.db.WithContext(ctx).
		Model(&entities.Message{}).
		Where("public_id = ?", publicID).
		Updates(map[string]interface{}{
			"status":         string(domain.StatusSent),
			"provider_id":    providerID,
			"failure_reason": "",
		})
	if result.Error != nil {
		return fmt.Errorf("mark sent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkDeliveryFailed records a failed dispatch, keeping the text for a
// later delivery retry.
func (r *PostgresRepository) MarkDeliveryFailed(ctx context.Context, publicID, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&entities.Message{}).
		Where("public_id = ?", publicID).
		Updates(map[string]interface{}{
			"status":         string(domain.StatusDeliveryFailed),
			"failure_reason": reason,
		})
	if result.Error != nil {
		return fmt.Errorf("mark delivery failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBySession returns the most recent messages of a session in
// chronological order.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionKey string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []entities.Message
	err := r.db.WithContext(ctx).
		Where("session_key = ?", sessionKey).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	// Reverse into chronological order.
	out := make([]domain.Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = *row.EtoD()
	}
	return out, nil
}

var _ domain.Repository = (*PostgresRepository)(nil)
