// Package org exposes the per-tenant methodology document the prompt
// assembler layers on top of the fixed operational instructions.
package org

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the organization is unknown.
var ErrNotFound = errors.New("org: not found")

// Org is the subset of tenant data the engine reads. Tenant management
// itself lives outside this service.
type Org struct {
	ID           string
	Name         string
	Instructions string
}

// Repository reads organization records from the durable store.
type Repository interface {
	// GetByID loads one organization, or ErrNotFound.
	GetByID(ctx context.Context, orgID string) (*Org, error)
}
