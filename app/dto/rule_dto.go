package dto

import "github.com/shopspring/decimal"

// RuleRequest creates or replaces a routing rule.
// Which of the bound fields are required depends on the rule type.
type RuleRequest struct {
	Name                 string           `json:"name" validate:"required,max=255"`
	Description          *string          `json:"description,omitempty"`
	Type                 string           `json:"type" validate:"required,max=64"`
	MinimumAmount        *decimal.Decimal `json:"minimum_amount,omitempty"`
	MaximumAmount        *decimal.Decimal `json:"maximum_amount,omitempty"`
	NITAssociatedCompany *string          `json:"nit_associated_company,omitempty" validate:"omitempty,max=32"`
	ObjectionCode        *string          `json:"objection_code,omitempty" validate:"omitempty,max=64"`
	IsActive             *bool            `json:"is_active,omitempty"`
	RoleIDs              []uint           `json:"role_ids" validate:"required,min=1,dive,gt=0"`
}

// SetRuleActiveRequest enables or disables a rule
type SetRuleActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}
