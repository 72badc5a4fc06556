package dto

// ProcessClaimResponse is the routing decision for a manually submitted claim
type ProcessClaimResponse struct {
	Outcome       string   `json:"outcome"`
	Created       bool     `json:"created"`
	Assignment    any      `json:"assignment,omitempty"`
	MatchedRuleID *uint    `json:"matched_rule_id,omitempty"`
	SelectedUser  *uint    `json:"selected_user_id,omitempty"`
	CandidateIDs  []uint   `json:"candidate_rule_ids,omitempty"`
	Misconfigured []string `json:"misconfigured_rules,omitempty"`
}
