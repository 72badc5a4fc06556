package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records every lifecycle transition and every failure, with the
// triggering payload kept in Metadata for postmortems.
type AuditLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Action       string         `gorm:"type:varchar(64);not null;index:idx_audit_action" json:"action"`
	AssignmentID *uint          `gorm:"index:idx_audit_assignment_id" json:"assignment_id,omitempty"`
	CompanyID    *uint          `gorm:"index:idx_audit_company_id" json:"company_id,omitempty"`
	Actor        string         `gorm:"type:varchar(255);not null;default:'system'" json:"actor"`
	Description  *string        `gorm:"type:text" json:"description,omitempty"`
	IPAddress    *string        `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent    *string        `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID    *string        `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	Metadata     datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	Success      *bool          `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time      `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionAssignmentCreated     = "assignment_created"
	AuditActionAssignmentDuplicate   = "assignment_duplicate"
	AuditActionAssignmentReassigned  = "assignment_reassigned"
	AuditActionAssignmentActivated   = "assignment_activated"
	AuditActionAssignmentCompleted   = "assignment_completed"
	AuditActionAssignmentCancelled   = "assignment_cancelled"
	AuditActionAssignmentUnassigned  = "assignment_unassigned"
	AuditActionAssignmentDeleted     = "assignment_force_deleted"
	AuditActionTransitionFailed      = "assignment_transition_failed"
	AuditActionClaimNoRoute          = "claim_no_route"
	AuditActionClaimRejected         = "claim_rejected"
	AuditActionClaimFailed           = "claim_failed"
	AuditActionClaimDeadLettered     = "claim_dead_lettered"
	AuditActionRuleCreated           = "rule_created"
	AuditActionRuleUpdated           = "rule_updated"
	AuditActionRuleActivationChanged = "rule_activation_changed"
	AuditActionRuleWriteFailed       = "rule_write_failed"
	AuditActionBootstrapFailed       = "bootstrap_failed"
	AuditActionBootstrapStarted      = "bootstrap_started"
	AuditActionBootstrapStopped      = "bootstrap_stopped"
	AuditActionRequestRejected       = "request_rejected"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	AssignmentID  *uint
	CompanyID     *uint
	Action        *string
	Success       *bool
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}
