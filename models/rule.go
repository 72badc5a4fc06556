package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RuleType declares which claim attributes a rule constrains.
// Unknown values are kept as-is and behave as catch-all rules.
type RuleType string

const (
	RuleTypeCompany           RuleType = "COMPANY"
	RuleTypeAmount            RuleType = "AMOUNT"
	RuleTypeCompanyAmount     RuleType = "COMPANY-AMOUNT"
	RuleTypeCode              RuleType = "CODE"
	RuleTypeCodeAmount        RuleType = "CODE-AMOUNT"
	RuleTypeCompanyCode       RuleType = "COMPANY-CODE"
	RuleTypeCodeAmountCompany RuleType = "CODE-AMOUNT-COMPANY"
)

// KnownRuleTypes lists every rule type with dedicated matching semantics
var KnownRuleTypes = []RuleType{
	RuleTypeCompany,
	RuleTypeAmount,
	RuleTypeCompanyAmount,
	RuleTypeCode,
	RuleTypeCodeAmount,
	RuleTypeCompanyCode,
	RuleTypeCodeAmountCompany,
}

func (t RuleType) String() string {
	return string(t)
}

// Known reports whether t has dedicated semantics (false means catch-all)
func (t RuleType) Known() bool {
	for _, k := range KnownRuleTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Rule routes claims of one company to the users holding its roles.
// Table: rules
// minimum/maximum amount are required iff the type includes AMOUNT,
// nit_associated_company iff it includes COMPANY, objection_code iff CODE.
// Rules are disabled through is_active and never physically removed.
type Rule struct {
	ID                   uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID            uint             `gorm:"not null;index:idx_rules_company_active" json:"company_id"`
	Name                 string           `gorm:"type:varchar(255);not null" json:"name"`
	Description          *string          `gorm:"type:text" json:"description,omitempty"`
	Type                 RuleType         `gorm:"type:varchar(64);not null" json:"type"`
	MinimumAmount        *decimal.Decimal `gorm:"type:numeric(20,2)" json:"minimum_amount,omitempty"`
	MaximumAmount        *decimal.Decimal `gorm:"type:numeric(20,2)" json:"maximum_amount,omitempty"`
	NITAssociatedCompany *string          `gorm:"column:nit_associated_company;type:varchar(32)" json:"nit_associated_company,omitempty"`
	ObjectionCode        *string          `gorm:"type:varchar(64)" json:"objection_code,omitempty"`
	IsActive             *bool            `gorm:"default:true;index:idx_rules_company_active" json:"is_active"`
	CreatedAt            time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	RoleLinks []RuleRole `gorm:"foreignKey:RuleID;references:ID;constraint:OnDelete:CASCADE" json:"roles"`
	Company   *Company   `gorm:"foreignKey:CompanyID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Rule) TableName() string { return "rules" }

// Active reports whether the rule takes part in matching
func (r *Rule) Active() bool {
	return r.IsActive != nil && *r.IsActive
}

// RoleIDs returns the authorized roles in their configured order
func (r *Rule) RoleIDs() []uint {
	links := make([]RuleRole, len(r.RoleLinks))
	copy(links, r.RoleLinks)
	sort.SliceStable(links, func(i, j int) bool { return links[i].Position < links[j].Position })

	ids := make([]uint, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.RoleID)
	}
	return ids
}

// RuleRole is the ordered authorization link between a rule and a role
type RuleRole struct {
	RuleID   uint `gorm:"primaryKey" json:"-"`
	RoleID   uint `gorm:"primaryKey;index" json:"role_id"`
	Position int  `gorm:"not null;default:0" json:"position"`

	Role *Role `gorm:"foreignKey:RoleID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (RuleRole) TableName() string { return "rule_roles" }

// RuleFilter represents filter criteria for rule queries
type RuleFilter struct {
	ID        *uint
	CompanyID *uint
	Type      *RuleType
	IsActive  *bool
}
