package entities

import "time"

// Org holds the per-tenant methodology document the prompt assembler
// layers into the rendered prompt. Tenant CRUD lives outside this
// service; the engine only reads.
type Org struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	PublicID     string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Name         string `gorm:"type:varchar(128);not null"`
	Instructions string `gorm:"type:text"`
}

// TableName implements the GORM tabler interface.
func (Org) TableName() string { return "orgs" }
