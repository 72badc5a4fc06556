package businessflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
)

// ClientMetadata identifies who triggered an operation, for audit logging
type ClientMetadata struct {
	Actor     string `json:"actor"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		Actor:     utils.AnonymousActor,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SystemMetadata is the metadata for work triggered by the service itself
func SystemMetadata(requestID string) *ClientMetadata {
	return &ClientMetadata{Actor: utils.SystemActor, RequestID: requestID}
}

// SetActor sets the authenticated operator
func (cm *ClientMetadata) SetActor(actor string) {
	if actor != "" {
		cm.Actor = actor
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

func metadataOrSystem(md *ClientMetadata) *ClientMetadata {
	if md == nil {
		return SystemMetadata("")
	}
	return md
}

// auditEntry is one audit record before persistence
type auditEntry struct {
	Action       string
	AssignmentID *uint
	CompanyID    *uint
	Description  string
	Payload      any
	Err          error
}

// auditRecorder persists audit entries through the audit log repository
type auditRecorder struct {
	repo   repository.AuditLogRepository
	logger *slog.Logger
}

func newAuditRecorder(repo repository.AuditLogRepository, logger *slog.Logger) *auditRecorder {
	return &auditRecorder{repo: repo, logger: logger}
}

func (r *auditRecorder) build(entry auditEntry, md *ClientMetadata) *models.AuditLog {
	md = metadataOrSystem(md)

	log := &models.AuditLog{
		Action:       entry.Action,
		AssignmentID: entry.AssignmentID,
		CompanyID:    entry.CompanyID,
		Actor:        md.Actor,
		Success:      utils.ToPtr(entry.Err == nil),
		CreatedAt:    utils.UTCNow(),
	}
	if entry.Description != "" {
		log.Description = utils.ToPtr(entry.Description)
	}
	if md.IPAddress != "" {
		log.IPAddress = utils.ToPtr(md.IPAddress)
	}
	if md.UserAgent != "" {
		log.UserAgent = utils.ToPtr(md.UserAgent)
	}
	if md.RequestID != "" {
		log.RequestID = utils.ToPtr(md.RequestID)
	}
	if entry.Err != nil {
		log.ErrorMessage = utils.ToPtr(entry.Err.Error())
	}
	if entry.Payload != nil {
		if raw, err := json.Marshal(entry.Payload); err == nil {
			log.Metadata = raw
		} else {
			r.logger.Warn("Failed to encode audit payload", "action", entry.Action, "error", err)
		}
	}
	return log
}

// record persists an entry as part of the caller's unit of work
func (r *auditRecorder) record(ctx context.Context, entry auditEntry, md *ClientMetadata) error {
	return r.repo.Save(ctx, r.build(entry, md))
}

// recordFailure persists a failure entry; a storage error is logged and swallowed
// so it never masks the failure being reported.
func (r *auditRecorder) recordFailure(ctx context.Context, entry auditEntry, md *ClientMetadata) {
	if err := r.repo.Save(ctx, r.build(entry, md)); err != nil {
		r.logger.Error("Failed to persist audit log",
			"action", entry.Action,
			"error", err,
			"cause", entry.Err,
		)
	}
}

// RequestAuditor records requests rejected before they reach a flow
type RequestAuditor struct {
	recorder *auditRecorder
}

// NewRequestAuditor creates a request auditor; a nil repository disables it
func NewRequestAuditor(repo repository.AuditLogRepository, logger *slog.Logger) *RequestAuditor {
	if repo == nil {
		return &RequestAuditor{}
	}
	return &RequestAuditor{recorder: newAuditRecorder(repo, logger)}
}

// RecordRejected stores a failed audit entry carrying the raw request body
func (a *RequestAuditor) RecordRejected(ctx context.Context, endpoint string, body []byte, cause error, md *ClientMetadata) {
	if a == nil || a.recorder == nil {
		return
	}
	a.recorder.recordFailure(ctx, auditEntry{
		Action:      models.AuditActionRequestRejected,
		Description: "Request rejected on " + endpoint,
		Payload:     map[string]string{"endpoint": endpoint, "body": string(body)},
		Err:         cause,
	}, md)
}

// AssignmentSnapshot is the observable state of an assignment at one point in time
type AssignmentSnapshot struct {
	Status models.AssignmentStatus `json:"status"`
	UserID *uint                   `json:"user_id,omitempty"`
}

func snapshotOf(a *models.Assignment) AssignmentSnapshot {
	return AssignmentSnapshot{Status: a.Status, UserID: a.UserID}
}

// AssignmentEvent describes a committed lifecycle change
type AssignmentEvent struct {
	Action     string              `json:"action"`
	Assignment models.Assignment   `json:"assignment"`
	Before     *AssignmentSnapshot `json:"before,omitempty"`
	After      AssignmentSnapshot  `json:"after"`
	Actor      string              `json:"actor"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// NotificationSink receives committed assignment changes
type NotificationSink interface {
	NotifyAssignmentChanged(ctx context.Context, event AssignmentEvent) error
}
