package businessflow

import (
	"log/slog"
	"sort"

	"github.com/amirphl/claim-router/models"
)

// RuleCandidate is an active, well-formed rule that matched a claim
type RuleCandidate struct {
	Rule        *models.Rule
	Specificity int
}

// MatchResult is the outcome of resolving a claim against a company's rules.
// Winner is nil when no rule matched.
type MatchResult struct {
	Winner        *models.Rule
	Candidates    []RuleCandidate
	Misconfigured []error
}

// Routed reports whether a rule was found
func (m MatchResult) Routed() bool {
	return m.Winner != nil
}

// RuleMatcher picks the most specific active rule matching a claim
type RuleMatcher struct {
	logger *slog.Logger
}

// NewRuleMatcher creates a rule matcher
func NewRuleMatcher(logger *slog.Logger) *RuleMatcher {
	return &RuleMatcher{logger: logger}
}

// Resolve never fails: malformed rules are skipped and reported, and an empty
// candidate set is a valid "no route" result.
func (m *RuleMatcher) Resolve(claim *models.Claim, rules []*models.Rule) MatchResult {
	var result MatchResult

	for _, rule := range rules {
		if rule == nil || !rule.Active() {
			continue
		}
		if err := ValidateRuleShape(rule); err != nil {
			result.Misconfigured = append(result.Misconfigured, err)
			m.logger.Error("Routing rule is misconfigured",
				"rule_id", rule.ID,
				"company_id", rule.CompanyID,
				"type", rule.Type,
				"error", err,
			)
			continue
		}

		spec := specFor(rule.Type)
		if ruleMatches(spec, rule, claim) {
			result.Candidates = append(result.Candidates, RuleCandidate{Rule: rule, Specificity: spec.rank})
		}
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.Specificity != b.Specificity {
			return a.Specificity > b.Specificity
		}
		return a.Rule.ID < b.Rule.ID
	})

	if len(result.Candidates) > 0 {
		result.Winner = result.Candidates[0].Rule
	}
	return result
}
