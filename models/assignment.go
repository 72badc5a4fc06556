package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/claim-router/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AssignmentStatus is the lifecycle state of an assignment
type AssignmentStatus string

const (
	AssignmentStatusPending    AssignmentStatus = "pending"
	AssignmentStatusAssigned   AssignmentStatus = "assigned"
	AssignmentStatusActive     AssignmentStatus = "active"
	AssignmentStatusCompleted  AssignmentStatus = "completed"
	AssignmentStatusCancelled  AssignmentStatus = "cancelled"
	AssignmentStatusUnassigned AssignmentStatus = "unassigned"
)

// String returns the string representation of the status
func (s AssignmentStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentStatusPending, AssignmentStatusAssigned, AssignmentStatusActive,
		AssignmentStatusCompleted, AssignmentStatusCancelled, AssignmentStatusUnassigned:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave this status
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentStatusCompleted || s == AssignmentStatusCancelled
}

// OpenAssignmentStatuses are the statuses counted as a user's workload
var OpenAssignmentStatuses = []AssignmentStatus{
	AssignmentStatusAssigned,
	AssignmentStatusActive,
}

// Scan implements the sql.Scanner interface for AssignmentStatus
func (s *AssignmentStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = AssignmentStatus(v)
	case []byte:
		*s = AssignmentStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into AssignmentStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for AssignmentStatus
func (s AssignmentStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Assignment is the durable record of a routing decision.
// Table: assignments
// (claim_id, document_number) is the natural key and is unique.
// end_date is set iff status is completed or cancelled.
// version is bumped on every state change and guards concurrent transitions.
type Assignment struct {
	ID             uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID           uuid.UUID        `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	UserID         *uint            `gorm:"index" json:"user_id,omitempty"`
	CompanyID      uint             `gorm:"not null;index:idx_assignments_company_status" json:"company_id"`
	ClaimID        string           `gorm:"type:varchar(64);not null;uniqueIndex:uk_assignments_natural_key" json:"claim_id"`
	DocumentNumber string           `gorm:"type:varchar(64);not null;uniqueIndex:uk_assignments_natural_key" json:"document_number"`
	Source         string           `gorm:"type:varchar(32);not null" json:"source"`
	ObjectionCode  string           `gorm:"type:varchar(64)" json:"objection_code"`
	Value          decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"value"`
	ProcessID      int64            `gorm:"index" json:"process_id"`
	MatchedRuleID  *uint            `gorm:"index" json:"matched_rule_id,omitempty"`
	Status         AssignmentStatus `gorm:"type:varchar(20);not null;index:idx_assignments_company_status" json:"status"`
	StartDate      time.Time        `gorm:"not null" json:"start_date"`
	EndDate        *time.Time       `json:"end_date,omitempty"`
	Version        int64            `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	User    *User    `gorm:"foreignKey:UserID;references:ID" json:"-"`
	Company *Company `gorm:"foreignKey:CompanyID;references:ID" json:"-"`
}

func (Assignment) TableName() string { return "assignments" }

// BeforeCreate fills identity and timestamps left unset by the caller
func (a *Assignment) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	now := utils.UTCNow()
	if a.StartDate.IsZero() {
		a.StartDate = now
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	if a.Version == 0 {
		a.Version = 1
	}
	return nil
}

// AssignmentFilter represents filter criteria for assignment queries
type AssignmentFilter struct {
	ID             *uint
	CompanyID      *uint
	UserID         *uint
	Status         *AssignmentStatus
	ClaimID        *string
	DocumentNumber *string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}

// AssignmentChanges carries the columns written by a guarded state transition
type AssignmentChanges struct {
	Status  AssignmentStatus
	UserID  *uint
	EndDate *time.Time
}
