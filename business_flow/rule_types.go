package businessflow

import (
	"fmt"
	"strings"

	"github.com/amirphl/claim-router/models"
)

// ruleCondition is one claim attribute a rule type constrains
type ruleCondition uint8

const (
	conditionCompany ruleCondition = 1 << iota
	conditionAmount
	conditionCode
)

func (c ruleCondition) has(flag ruleCondition) bool {
	return c&flag != 0
}

// ruleTypeSpec describes how a rule type matches and how specific it is
type ruleTypeSpec struct {
	conditions ruleCondition
	rank       int
}

// catchAllSpec applies to any type not listed in ruleTypeSpecs
var catchAllSpec = ruleTypeSpec{conditions: 0, rank: 0}

// ruleTypeSpecs is the closed table of rule types with dedicated semantics.
// Higher rank wins; equal ranks fall back to the lower rule id.
var ruleTypeSpecs = map[models.RuleType]ruleTypeSpec{
	models.RuleTypeCodeAmountCompany: {conditions: conditionCode | conditionAmount | conditionCompany, rank: 60},
	models.RuleTypeCompanyCode:       {conditions: conditionCompany | conditionCode, rank: 50},
	models.RuleTypeCodeAmount:        {conditions: conditionCode | conditionAmount, rank: 50},
	models.RuleTypeCompanyAmount:     {conditions: conditionCompany | conditionAmount, rank: 40},
	models.RuleTypeCode:              {conditions: conditionCode, rank: 30},
	models.RuleTypeAmount:            {conditions: conditionAmount, rank: 20},
	models.RuleTypeCompany:           {conditions: conditionCompany, rank: 10},
}

func specFor(t models.RuleType) ruleTypeSpec {
	if spec, ok := ruleTypeSpecs[t]; ok {
		return spec
	}
	return catchAllSpec
}

// RuleSpecificity returns the rank used to order matching rules
func RuleSpecificity(t models.RuleType) int {
	return specFor(t).rank
}

// ValidateRuleShape checks that the fields required by the rule's type are present
// and that the amount range is well ordered.
func ValidateRuleShape(rule *models.Rule) error {
	spec := specFor(rule.Type)
	var problems []string

	if spec.conditions.has(conditionAmount) {
		switch {
		case rule.MinimumAmount == nil || rule.MaximumAmount == nil:
			problems = append(problems, "minimum_amount and maximum_amount are required")
		case rule.MinimumAmount.GreaterThan(*rule.MaximumAmount):
			problems = append(problems, "minimum_amount must not exceed maximum_amount")
		}
	}
	if spec.conditions.has(conditionCompany) && blank(rule.NITAssociatedCompany) {
		problems = append(problems, "nit_associated_company is required")
	}
	if spec.conditions.has(conditionCode) && blank(rule.ObjectionCode) {
		problems = append(problems, "objection_code is required")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: rule %d (%s): %s", ErrInvalidRule, rule.ID, rule.Type, strings.Join(problems, "; "))
}

// normalizeRuleFields drops the fields a rule's type does not use
func normalizeRuleFields(rule *models.Rule) {
	spec := specFor(rule.Type)
	if !spec.conditions.has(conditionAmount) {
		rule.MinimumAmount, rule.MaximumAmount = nil, nil
	}
	if !spec.conditions.has(conditionCompany) {
		rule.NITAssociatedCompany = nil
	}
	if !spec.conditions.has(conditionCode) {
		rule.ObjectionCode = nil
	}
}

// ruleMatches evaluates the conjunction of the type's conditions against a claim
func ruleMatches(spec ruleTypeSpec, rule *models.Rule, claim *models.Claim) bool {
	if spec.conditions.has(conditionCompany) &&
		strings.TrimSpace(claim.Source) != strings.TrimSpace(*rule.NITAssociatedCompany) {
		return false
	}
	if spec.conditions.has(conditionCode) &&
		strings.TrimSpace(claim.ObjectionCode) != strings.TrimSpace(*rule.ObjectionCode) {
		return false
	}
	if spec.conditions.has(conditionAmount) {
		value := claim.Amount()
		if value.LessThan(*rule.MinimumAmount) || value.GreaterThan(*rule.MaximumAmount) {
			return false
		}
	}
	return true
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
