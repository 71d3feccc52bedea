package org

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	domain "github.com/zapqual/engine/internal/domain/org"
	"github.com/zapqual/engine/internal/infrastructure/database/entities"
)

// PostgresRepository reads organization records with GORM.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository constructs the org repository.
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID loads one organization by public id.
func (r *PostgresRepository) GetByID(ctx context.Context, orgID string) (*domain.Org, error) {
	var entity entities.Org
	err := r.db.WithContext(ctx).
		Where("public_id = ?", orgID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get org: %w", err)
	}

	return &domain.Org{
		ID:           entity.PublicID,
		Name:         entity.Name,
		Instructions: entity.Instructions,
	}, nil
}

var _ domain.Repository = (*PostgresRepository)(nil)
