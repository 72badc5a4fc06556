// Package models contains domain entities for claim routing
package models

import (
	"time"
)

// Company is a tenant. Its NIT (tax id) is what inbound claims target.
// Table: companies
type Company struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	NIT       string    `gorm:"column:nit;type:varchar(32);uniqueIndex;not null" json:"nit"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	IsActive  *bool     `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Company) TableName() string { return "companies" }

// Active reports whether the company can receive claims
func (c *Company) Active() bool {
	return c.IsActive == nil || *c.IsActive
}

// CompanyFilter represents filter criteria for company queries
type CompanyFilter struct {
	ID       *uint
	NIT      *string
	IsActive *bool
}
