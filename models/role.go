package models

import (
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	ErrRoleNameLength  = errors.New("role name must be between 2 and 100 characters")
	ErrRoleNameCharset = errors.New("role name contains invalid characters")
)

// Role belongs to a company; its name is unique within that company
type Role struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID   uint      `gorm:"not null;uniqueIndex:uk_roles_company_name" json:"company_id"`
	Name        string    `gorm:"type:varchar(100);not null;uniqueIndex:uk_roles_company_name" json:"name"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	IsActive    *bool     `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Company *Company `gorm:"foreignKey:CompanyID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Role) TableName() string { return "roles" }

// ValidateRoleName checks length (2..100 runes) and charset: ASCII letters,
// digits, space, underscore, hyphen and Latin accented letters.
func ValidateRoleName(name string) error {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 100 {
		return ErrRoleNameLength
	}
	for _, r := range name {
		switch {
		case r < utf8.RuneSelf:
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == ' ' || r == '_' || r == '-') {
				return ErrRoleNameCharset
			}
		case unicode.Is(unicode.Latin, r):
		default:
			return ErrRoleNameCharset
		}
	}
	return nil
}
