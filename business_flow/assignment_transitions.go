package businessflow

import (
	"github.com/amirphl/claim-router/models"
)

// transition is an operator or pipeline request to move an assignment
type transition string

const (
	transitionActivate transition = "activate"
	transitionComplete transition = "complete"
	transitionCancel   transition = "cancel"
	transitionUnassign transition = "unassign"
	transitionReassign transition = "reassign"
)

type transitionRule struct {
	from   []models.AssignmentStatus
	to     models.AssignmentStatus
	action string
	// repeatable transitions succeed as a no-op when already in the target status
	repeatable bool
}

var nonTerminalStatuses = []models.AssignmentStatus{
	models.AssignmentStatusPending,
	models.AssignmentStatusAssigned,
	models.AssignmentStatusActive,
	models.AssignmentStatusUnassigned,
}

var transitionRules = map[transition]transitionRule{
	transitionActivate: {
		from:   []models.AssignmentStatus{models.AssignmentStatusPending, models.AssignmentStatusAssigned},
		to:         models.AssignmentStatusActive,
		action:     models.AuditActionAssignmentActivated,
		repeatable: true,
	},
	transitionComplete: {
		from:   nonTerminalStatuses,
		to:         models.AssignmentStatusCompleted,
		action:     models.AuditActionAssignmentCompleted,
		repeatable: true,
	},
	transitionCancel: {
		from:   nonTerminalStatuses,
		to:     models.AssignmentStatusCancelled,
		action: models.AuditActionAssignmentCancelled,
	},
	transitionUnassign: {
		from:   []models.AssignmentStatus{models.AssignmentStatusAssigned, models.AssignmentStatusActive},
		to:         models.AssignmentStatusUnassigned,
		action:     models.AuditActionAssignmentUnassigned,
		repeatable: true,
	},
	transitionReassign: {
		from:   []models.AssignmentStatus{models.AssignmentStatusPending, models.AssignmentStatusAssigned},
		to:     models.AssignmentStatusAssigned,
		action: models.AuditActionAssignmentReassigned,
	},
}

// planTransition returns the status t leads to from current.
// noop is true when a repeatable transition finds the assignment already in its
// target status. A cancelled assignment rejects every transition, cancel included.
func planTransition(t transition, current models.AssignmentStatus) (next models.AssignmentStatus, noop bool, err error) {
	rule, ok := transitionRules[t]
	if !ok {
		return "", false, NewBusinessErrorf("INVALID_TRANSITION", "unknown transition %q", ErrInvalidTransition, t)
	}
	if rule.repeatable && current == rule.to {
		return current, true, nil
	}
	for _, s := range rule.from {
		if s == current {
			return rule.to, false, nil
		}
	}
	return "", false, NewBusinessErrorf("INVALID_TRANSITION", "cannot %s an assignment that is %s", ErrInvalidTransition, t, current)
}

// transitionAudit is the audit payload of a committed transition
type transitionAudit struct {
	Transition     string                  `json:"transition"`
	PreviousStatus models.AssignmentStatus `json:"previous_status"`
	NewStatus      models.AssignmentStatus `json:"new_status"`
	PreviousUserID *uint                   `json:"previous_user_id"`
	NewUserID      *uint                   `json:"new_user_id"`
	Version        int64                   `json:"version"`
}

func sameUser(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
