package models

import (
	"github.com/shopspring/decimal"
)

// Claim is an inbound objection event. It is decoded from the queue payload
// (or a manual request body) and never persisted verbatim.
type Claim struct {
	ProcessID              int64            `json:"ProcessId" validate:"required"`
	Target                 string           `json:"Target" validate:"required,max=32"`
	Source                 string           `json:"Source" validate:"required,max=32"`
	DocumentNumber         string           `json:"DocumentNumber" validate:"required,max=64"`
	InvoiceAmount          *decimal.Decimal `json:"InvoiceAmount" validate:"required"`
	ExternalReference      string           `json:"ExternalReference" validate:"required"`
	ClaimID                string           `json:"ClaimId" validate:"required,max=64"`
	ConceptApplicationCode string           `json:"ConceptApplicationCode" validate:"required"`
	ObjectionCode          string           `json:"ObjectionCode" validate:"required,max=64"`
	Value                  *decimal.Decimal `json:"Value" validate:"required"`
}

// Amount returns the claim value used for AMOUNT matching
func (c *Claim) Amount() decimal.Decimal {
	if c.Value == nil {
		return decimal.Zero
	}
	return *c.Value
}
