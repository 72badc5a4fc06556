package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a reviewer who can own assignments. Identified by DUD (document type + number).
// IsActive gates eligibility for routing; DeletedAt is archival and independent of it.
type User struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentType   string         `gorm:"type:varchar(8);not null;uniqueIndex:uk_users_dud" json:"document_type"`
	DocumentNumber string         `gorm:"type:varchar(32);not null;uniqueIndex:uk_users_dud" json:"document_number"`
	FullName       string         `gorm:"type:varchar(255);not null" json:"full_name"`
	Email          string         `gorm:"type:varchar(255);index" json:"email"`
	IsActive       *bool          `gorm:"default:true;index" json:"is_active"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

// DUD returns the composite document identifier, e.g. "CC-1032456789"
func (u *User) DUD() string {
	return u.DocumentType + "-" + u.DocumentNumber
}

// Eligible reports whether the user may receive new assignments
func (u *User) Eligible() bool {
	return u.IsActive != nil && *u.IsActive && !u.DeletedAt.Valid
}

// UserRole binds a user to a role. Roles are resolved globally, never by company.
type UserRole struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:uk_user_roles_user_role" json:"user_id"`
	RoleID    uint      `gorm:"not null;uniqueIndex:uk_user_roles_user_role;index" json:"role_id"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`

	User *User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Role *Role `gorm:"foreignKey:RoleID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (UserRole) TableName() string { return "user_roles" }
