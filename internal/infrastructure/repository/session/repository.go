package session

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/infrastructure/database/entities"
)

// PostgresRepository persists authoritative session snapshots with GORM.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository constructs the session repository.
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByKey loads the snapshot for a session key.
func (r *PostgresRepository) GetByKey(ctx context.Context, sessionKey string) (*domain.State, error) {
	var entity entities.SessionSnapshot
	err := r.db.WithContext(ctx).
		Where("session_key = ?", sessionKey).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get session snapshot: %w", err)
	}

	state, err := entity.EtoD()
	if err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	return state, nil
}

// Save upserts the snapshot keyed by SessionKey.
func (r *PostgresRepository) Save(ctx context.Context, state *domain.State) error {
	entity, err := entities.NewSchemaSessionSnapshot(state)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"stage", "score", "facts", "asked_topics", "answered_topics",
				"summary", "last_inbound_at", "last_stage_at", "updated_at",
			}),
		}).
		Create(entity).Error
	if err != nil {
		return fmt.Errorf("save session snapshot: %w", err)
	}
	return nil
}

var _ domain.Repository = (*PostgresRepository)(nil)
