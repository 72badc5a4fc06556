package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateAssignmentRequest creates an assignment outside the automatic pipeline
type CreateAssignmentRequest struct {
	CompanyID      uint             `json:"company_id" validate:"required"`
	UserID         *uint            `json:"user_id,omitempty" validate:"omitempty,gt=0"`
	MatchedRuleID  *uint            `json:"matched_rule_id,omitempty" validate:"omitempty,gt=0"`
	ClaimID        string           `json:"claim_id" validate:"required,max=64"`
	DocumentNumber string           `json:"document_number" validate:"required,max=64"`
	Source         string           `json:"source" validate:"required,max=32"`
	ObjectionCode  string           `json:"objection_code" validate:"omitempty,max=64"`
	Value          *decimal.Decimal `json:"value" validate:"required"`
	ProcessID      int64            `json:"process_id" validate:"omitempty,gte=0"`
	StartDate      *time.Time       `json:"start_date,omitempty"`
}

// ReassignRequest moves one assignment to another user
type ReassignRequest struct {
	UserID uint `json:"user_id" validate:"required"`
}

// BulkReassignItem is one entry of a bulk reassignment
type BulkReassignItem struct {
	AssignmentID uint `json:"assignment_id" validate:"required"`
	UserID       uint `json:"user_id" validate:"required"`
}

// BulkReassignRequest reassigns several assignments of one company
type BulkReassignRequest struct {
	Items []BulkReassignItem `json:"items" validate:"required,min=1,max=500,dive"`
}

// BulkReassignResponse reports every item; failures do not roll back successes
type BulkReassignResponse struct {
	Results   any `json:"results"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// CompleteByNaturalKeyRequest completes the assignment of a claim/document pair
type CompleteByNaturalKeyRequest struct {
	ClaimID        string `json:"claim_id" validate:"required,max=64"`
	DocumentNumber string `json:"document_number" validate:"required,max=64"`
}

// ListAssignmentsResponse is one page of assignments
type ListAssignmentsResponse struct {
	Items  any   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// CreateAssignmentResponse reports whether the natural key was new
type CreateAssignmentResponse struct {
	Assignment any  `json:"assignment"`
	Created    bool `json:"created"`
}
