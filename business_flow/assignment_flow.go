package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
	"github.com/shopspring/decimal"
)

// AssignmentLifecycle owns every state change of an assignment
type AssignmentLifecycle interface {
	Create(ctx context.Context, input CreateAssignmentInput, metadata *ClientMetadata) (*CreateAssignmentResult, error)
	CreateManual(ctx context.Context, input CreateAssignmentInput, metadata *ClientMetadata) (*CreateAssignmentResult, error)
	Get(ctx context.Context, id uint) (*models.Assignment, error)
	// FindByNaturalKey returns the stored assignment and its owner; both are nil when absent
	FindByNaturalKey(ctx context.Context, claimID, documentNumber string) (*models.Assignment, *models.User, error)
	List(ctx context.Context, filter models.AssignmentFilter, limit, offset int) ([]*models.Assignment, int64, error)
	Reassign(ctx context.Context, id, newUserID uint, metadata *ClientMetadata) (*models.Assignment, error)
	BulkReassign(ctx context.Context, companyID uint, items []ReassignmentItem, metadata *ClientMetadata) ([]ReassignmentOutcome, error)
	Activate(ctx context.Context, id uint, metadata *ClientMetadata) (*models.Assignment, error)
	Complete(ctx context.Context, id uint, metadata *ClientMetadata) (*models.Assignment, error)
	CompleteByNaturalKey(ctx context.Context, claimID, documentNumber string, metadata *ClientMetadata) (*models.Assignment, error)
	Cancel(ctx context.Context, id uint, metadata *ClientMetadata) (*models.Assignment, error)
	Unassign(ctx context.Context, id uint, metadata *ClientMetadata) (*models.Assignment, error)
	ForceDelete(ctx context.Context, id uint, metadata *ClientMetadata) error
}

// CreateAssignmentInput describes a new routing decision
type CreateAssignmentInput struct {
	CompanyID      uint            `json:"company_id"`
	UserID         *uint           `json:"user_id,omitempty"`
	MatchedRuleID  *uint           `json:"matched_rule_id,omitempty"`
	ClaimID        string          `json:"claim_id"`
	DocumentNumber string          `json:"document_number"`
	Source         string          `json:"source"`
	ObjectionCode  string          `json:"objection_code"`
	Value          decimal.Decimal `json:"value"`
	ProcessID      int64           `json:"process_id"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
}

// CreateAssignmentResult reports whether the natural key was new
type CreateAssignmentResult struct {
	Assignment *models.Assignment
	Created    bool
}

// ReassignmentItem moves one assignment to a new owner
type ReassignmentItem struct {
	AssignmentID uint
	UserID       uint
}

// ReassignmentOutcome is the per-item result of a bulk reassignment
type ReassignmentOutcome struct {
	AssignmentID   uint                    `json:"assignment_id"`
	PreviousUserID *uint                   `json:"previous_user_id,omitempty"`
	NewUserID      uint                    `json:"new_user_id"`
	PreviousStatus models.AssignmentStatus `json:"previous_status,omitempty"`
	NewStatus      models.AssignmentStatus `json:"new_status,omitempty"`
	Success        bool                    `json:"success"`
	ErrorCode      string                  `json:"error_code,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// AssignmentFlowImpl implements AssignmentLifecycle
type AssignmentFlowImpl struct {
	assignmentRepo repository.AssignmentRepository
	companyRepo    repository.CompanyRepository
	userRepo       repository.UserRepository
	tx             repository.Transactor
	audit          *auditRecorder
	sink           NotificationSink
	logger         *slog.Logger
}

// NewAssignmentFlow creates the assignment lifecycle; sink may be nil
func NewAssignmentFlow(
	assignmentRepo repository.AssignmentRepository,
	companyRepo repository.CompanyRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditLogRepository,
	tx repository.Transactor,
	sink NotificationSink,
	logger *slog.Logger,
) AssignmentLifecycle {
	return &AssignmentFlowImpl{
		assignmentRepo: assignmentRepo,
		companyRepo:    companyRepo,
		userRepo:       userRepo,
		tx:             tx,
		audit:          newAuditRecorder(auditRepo, logger),
		sink:           sink,
		logger:         logger,
	}
}

// Create stores a routing decision. An existing (claim_id, document_number)
// is returned unchanged with Created=false.
func (f *AssignmentFlowImpl) Create(ctx context.Context, input CreateAssignmentInput, metadata *ClientMetadata) (*CreateAssignmentResult, error) {
	metadata = metadataOrSystem(metadata)

	if err := validateCreateInput(input); err != nil {
		return nil, f.fail(ctx, "create", nil, &input.CompanyID, err, input, metadata)
	}

	status := models.AssignmentStatusPending
	if input.UserID != nil {
		status = models.AssignmentStatusAssigned
	}

	assignment := &models.Assignment{
		UserID:         input.UserID,
		CompanyID:      input.CompanyID,
		ClaimID:        strings.TrimSpace(input.ClaimID),
		DocumentNumber: strings.TrimSpace(input.DocumentNumber),
		Source:         strings.TrimSpace(input.Source),
		ObjectionCode:  strings.TrimSpace(input.ObjectionCode),
		Value:          input.Value,
		ProcessID:      input.ProcessID,
		MatchedRuleID:  input.MatchedRuleID,
		Status:         status,
		StartDate:      utils.ValueOr(input.StartDate, utils.UTCNow()),
	}

	var result CreateAssignmentResult
	err := f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		stored, created, err := f.assignmentRepo.CreateIfAbsent(txCtx, assignment)
		if err != nil {
			return transientError("ASSIGNMENT_CREATE_FAILED", "Failed to create assignment", err)
		}
		result = CreateAssignmentResult{Assignment: stored, Created: created}
		if !created {
			return nil
		}

		return f.audit.record(txCtx, auditEntry{
			Action:       models.AuditActionAssignmentCreated,
			AssignmentID: &stored.ID,
			CompanyID:    &stored.CompanyID,
			Description:  fmt.Sprintf("Assignment created as %s", stored.Status),
			Payload:      input,
		}, metadata)
	})
	if err != nil {
		err = transientError("ASSIGNMENT_CREATE_FAILED", "Failed to create assignment", err)
		return nil, f.fail(ctx, "create", nil, &input.CompanyID, err, input, metadata)
	}

	if result.Created {
		f.notify(ctx, models.AuditActionAssignmentCreated, result.Assignment, nil, metadata)
	} else {
		f.logger.Info("Assignment already exists for natural key",
			"assignment_id", result.Assignment.ID,
			"claim_id", result.Assignment.ClaimID,
			"document_number", result.Assignment.DocumentNumber,
			"status", result.Assignment.Status,
		)
	}

	return &result, nil
}

// CreateManual creates an assignment without consulting routing rules
func (f *AssignmentFlowImpl) CreateManual(ctx context.Context, input CreateAssignmentInput, metadata *ClientMetadata) (*CreateAssignmentResult, error) {
	metadata = metadataOrSystem(metadata)

	company, err := f.companyRepo.ByID(ctx, input.CompanyID)
	if err != nil {
		err = transientError("COMPANY_LOOKUP_FAILED", "Failed to load company", err)
		return nil, f.fail(ctx, "create", nil, &input.CompanyID, err, input, metadata)
	}
	if company == nil {
		err = NewBusinessErrorf("COMPANY_NOT_FOUND", "company %d not found", ErrCompanyNotFound, input.CompanyID)
		return nil, f.fail(ctx, "create", nil, &input.CompanyID, err, input, metadata)
	}
	if !company.Active() {
		err = NewBusinessErrorf("COMPANY_INACTIVE", "company %d is inactive", ErrCompanyInactive, input.CompanyID)
		return nil, f.fail(ctx, "create", nil, &input.CompanyID, err, input, metadata)
	}

	if input.UserID != nil {
		if err := f.checkOwner(ctx, *input.UserID); err != nil {
			return nil, f.fail(ctx, "create", nil, &input.CompanyID, err, input, metadata)
		}
	}

	return f.Create(ctx, input, metadata)
}

// Get retrieves an assignment
func (f *AssignmentFlowImpl) Get(ctx context.Context, id uint) (*models.Assignment, error) {
	assignment, err := f.assignmentRepo.ByID(ctx, id)
	if err != nil {
		return nil, transientError("ASSIGNMENT_LOOKUP_FAILED", "Failed to load assignment", err)
	}
	if assignment == nil {
		return nil, NewBusinessErrorf("ASSIGNMENT_NOT_FOUND", "assignment %d not found", ErrAssignmentNotFound, id)
	}
	return assignment, nil
}

// List retrieves a page of assignments and the total matching the filter
func (f *AssignmentFlowImpl) List(ctx context.Context, filter models.AssignmentFilter, limit, offset int) ([]*models.Assignment, int64, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, NewBusinessErrorf("INVALID_STATUS", "unknown status %q", ErrInvalidRequest, *filter.Status)
	}

	items, err := f.assignmentRepo.ByFilter(ctx, filter, "created_at DESC, id DESC", limit, offset)
	if err != nil {
		return nil, 0, transientError("ASSIGNMENT_LIST_FAILED", "Failed to list assignments", err)
	}
	total, err := f.assignmentRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, transientError("ASSIGNMENT_LIST_FAILED", "Failed to count assignments", err)
	}
	return items, total, nil
}

// Reassign gives a pending or assigned assignment a new owner
func (f *AssignmentFlowImpl) Reassign(ctx context.Context, id, newUserID uint, metadata *ClientMetadata) (*models.Assignment, error) {
	metadata = metadataOrSystem(metadata)

	if err := f.checkOwner(ctx, newUserID); err != nil {
		return nil, f.fail(ctx, transitionReassign, &id, nil, err, ReassignmentItem{AssignmentID: id, UserID: newUserID}, metadata)
	}
	return f.apply(ctx, id, transitionReassign, &newUserID, metadata)
}

// BulkReassign reassigns each item independently and reports per-item results
func (f *AssignmentFlowImpl) BulkReassign(ctx context.Context, companyID uint, items []ReassignmentItem, metadata *ClientMetadata) ([]ReassignmentOutcome, error) {
	metadata = metadataOrSystem(metadata)

	if len(items) == 0 {
		return nil, f.fail(ctx, transitionReassign, nil, &companyID, ErrReassignmentEmpty, items, metadata)
	}

	owners := make(map[uint]error)
	outcomes := make([]ReassignmentOutcome, 0, len(items))

	for _, item := range items {
		outcome := ReassignmentOutcome{AssignmentID: item.AssignmentID, NewUserID: item.UserID}

		current, err := f.loadForCompany(ctx, item.AssignmentID, companyID)
		if err == nil {
			outcome.PreviousStatus = current.Status
			outcome.PreviousUserID = current.UserID

			ownerErr, checked := owners[item.UserID]
			if !checked {
				ownerErr = f.checkOwner(ctx, item.UserID)
				owners[item.UserID] = ownerErr
			}
			err = ownerErr
		}

		var updated *models.Assignment
		if err == nil {
			newUserID := item.UserID
			updated, err = f.applyTo(ctx, current, transitionReassign, &newUserID, metadata)
		} else {
			f.audit.recordFailure(ctx, auditEntry{
				Action:       models.AuditActionTransitionFailed,
				AssignmentID: utils.ToPtr(item.AssignmentID),
				CompanyID:    &companyID,
				Description:  "bulk reassign failed",
				Payload:      item,
				Err:          err,
			}, metadata)
		}

		if err != nil {
			outcome.Success = false
			outcome.ErrorCode = ErrorKind(err)
			outcome.Error = err.Error()
		} else {
			outcome.Success = true
			outcome.NewStatus = updated.Status
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// Activate moves a pending or assigned assignment to active
func (f *AssignmentFlowImpl) Activate(ctx context.Context, id uint, metadata *ClientMetadata) (*models.Assignment, error) {
	return f.apply(ctx, id, transitionActivate, nil, metadataOrSystem(metadata))
}

// Complete closes a non-terminal assignment
func (f *AssignmentFlowImpl) Complete(ctx context.Context, id uint, metadata *ClientMetadata) (*models.Assignment, error) {
	return f.apply(ctx, id, transitionComplete, nil, metadataOrSystem(metadata))
}

func (f *AssignmentFlowImpl) FindByNaturalKey(ctx context.Context, claimID, documentNumber string) (*models.Assignment, *models.User, error) {
	assignment, err := f.assignmentRepo.ByNaturalKey(ctx, claimID, documentNumber)
	if err != nil {
		return nil, nil, transientError("ASSIGNMENT_LOOKUP_FAILED", "Failed to load assignment", err)
	}
	if assignment == nil || assignment.UserID == nil {
		return assignment, nil, nil
	}
	owner, err := f.userRepo.ByID(ctx, *assignment.UserID)
	if err != nil {
		return nil, nil, transientError("USER_LOOKUP_FAILED", "Failed to load assignment owner", err)
	}
	return assignment, owner, nil
}

// CompleteByNaturalKey closes the assignment produced for a claim document
func (f *AssignmentFlowImpl) CompleteByNaturalKey(ctx context.Context, claimID, documentNumber string, metadata *ClientMetadata) (*models.Assignment, error) {
	metadata = metadataOrSystem(metadata)
	key := map[string]string{"claim_id": claimID, "document_number": documentNumber}

	claimID, documentNumber = strings.TrimSpace(claimID), strings.TrimSpace(documentNumber)
	if claimID == "" || documentNumber == "" {
		err := NewBusinessError("NATURAL_KEY_REQUIRED", "claim id and document number are required", ErrInvalidRequest)
		return nil, f.fail(ctx, transitionComplete, nil, nil, err, key, metadata)
	}

	current, err := f.assignmentRepo.ByNaturalKey(ctx, claimID, documentNumber)
	if err != nil {
		err = transientError("ASSIGNMENT_LOOKUP_FAILED", "Failed to load assignment", err)
		return nil, f.fail(ctx, transitionComplete, nil, nil, err, key, metadata)
	}
	if current == nil {
		err = NewBusinessErrorf("ASSIGNMENT_NOT_FOUND", "no assignment for claim %s document %s", ErrAssignmentNotFound, claimID, documentNumber)
		return nil, f.fail(ctx, transitionComplete, nil, nil, err, key, metadata)
	}

	return f.applyTo(ctx, current, transitionComplete, nil, metadata)
}

// Cancel cancels a non-terminal assignment
func (f *AssignmentFlowImpl) Cancel(ctx context.Context, id uint, metadata *ClientMetadata) (*models.Assignment, error) {
	return f.apply(ctx, id, transitionCancel, nil, metadataOrSystem(metadata))
}

// Unassign removes the owner of an assigned or active assignment
func (f *AssignmentFlowImpl) Unassign(ctx context.Context, id uint, metadata *ClientMetadata) (*models.Assignment, error) {
	return f.apply(ctx, id, transitionUnassign, nil, metadataOrSystem(metadata))
}

// ForceDelete physically removes an assignment. It is the only path that deletes rows.
func (f *AssignmentFlowImpl) ForceDelete(ctx context.Context, id uint, metadata *ClientMetadata) error {
	metadata = metadataOrSystem(metadata)

	current, err := f.assignmentRepo.ByID(ctx, id)
	if err != nil {
		err = transientError("ASSIGNMENT_LOOKUP_FAILED", "Failed to load assignment", err)
		return f.fail(ctx, "force_delete", &id, nil, err, nil, metadata)
	}
	if current == nil {
		err = NewBusinessErrorf("ASSIGNMENT_NOT_FOUND", "assignment %d not found", ErrAssignmentNotFound, id)
		return f.fail(ctx, "force_delete", &id, nil, err, nil, metadata)
	}

	err = f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := f.assignmentRepo.Delete(txCtx, id); err != nil {
			return err
		}
		return f.audit.record(txCtx, auditEntry{
			Action:       models.AuditActionAssignmentDeleted,
			AssignmentID: &current.ID,
			CompanyID:    &current.CompanyID,
			Description:  "Assignment force deleted",
			Payload:      current,
		}, metadata)
	})
	if err != nil {
		err = transientError("ASSIGNMENT_DELETE_FAILED", "Failed to delete assignment", err)
		return f.fail(ctx, "force_delete", &id, &current.CompanyID, err, current, metadata)
	}

	before := snapshotOf(current)
	f.notify(ctx, models.AuditActionAssignmentDeleted, current, &before, metadata)
	return nil
}

func (f *AssignmentFlowImpl) apply(ctx context.Context, id uint, t transition, newUserID *uint, metadata *ClientMetadata) (*models.Assignment, error) {
	current, err := f.assignmentRepo.ByID(ctx, id)
	if err != nil {
		err = transientError("ASSIGNMENT_LOOKUP_FAILED", "Failed to load assignment", err)
		return nil, f.fail(ctx, t, &id, nil, err, nil, metadata)
	}
	if current == nil {
		err = NewBusinessErrorf("ASSIGNMENT_NOT_FOUND", "assignment %d not found", ErrAssignmentNotFound, id)
		return nil, f.fail(ctx, t, &id, nil, err, nil, metadata)
	}
	return f.applyTo(ctx, current, t, newUserID, metadata)
}

// applyTo commits one transition with a compare-and-swap on status and version
func (f *AssignmentFlowImpl) applyTo(ctx context.Context, current *models.Assignment, t transition, newUserID *uint, metadata *ClientMetadata) (*models.Assignment, error) {
	next, noop, err := planTransition(t, current.Status)
	if err != nil {
		return nil, f.fail(ctx, t, &current.ID, &current.CompanyID, err, snapshotOf(current), metadata)
	}
	if t == transitionReassign && current.Status == models.AssignmentStatusAssigned && sameUser(current.UserID, newUserID) {
		noop = true
	}
	if noop {
		return current, nil
	}

	changes := models.AssignmentChanges{Status: next, UserID: current.UserID, EndDate: current.EndDate}
	switch t {
	case transitionReassign:
		changes.UserID = newUserID
	case transitionUnassign:
		changes.UserID = nil
	case transitionComplete, transitionCancel:
		changes.EndDate = utils.UTCNowPtr()
	}

	updated := *current
	updated.Status = changes.Status
	updated.UserID = changes.UserID
	updated.EndDate = changes.EndDate
	updated.Version = current.Version + 1
	updated.UpdatedAt = utils.UTCNow()

	audit := transitionAudit{
		Transition:     string(t),
		PreviousStatus: current.Status,
		NewStatus:      updated.Status,
		PreviousUserID: current.UserID,
		NewUserID:      updated.UserID,
		Version:        updated.Version,
	}
	action := transitionRules[t].action

	err = f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		swapped, err := f.assignmentRepo.UpdateState(txCtx, current.ID, current.Status, current.Version, changes)
		if err != nil {
			return err
		}
		if !swapped {
			return NewBusinessErrorf("ASSIGNMENT_CONFLICT", "assignment %d was modified concurrently", ErrAssignmentConflict, current.ID)
		}
		return f.audit.record(txCtx, auditEntry{
			Action:       action,
			AssignmentID: &current.ID,
			CompanyID:    &current.CompanyID,
			Description:  fmt.Sprintf("Assignment moved from %s to %s", current.Status, updated.Status),
			Payload:      audit,
		}, metadata)
	})
	if err != nil {
		if errors.Is(err, ErrAssignmentConflict) && transitionRules[t].repeatable {
			// A concurrent identical request that already landed counts as success
			if latest, lerr := f.assignmentRepo.ByID(ctx, current.ID); lerr == nil && latest != nil && latest.Status == next {
				return latest, nil
			}
		}
		err = transientError("ASSIGNMENT_UPDATE_FAILED", "Failed to update assignment", err)
		return nil, f.fail(ctx, t, &current.ID, &current.CompanyID, err, audit, metadata)
	}

	before := snapshotOf(current)
	f.notify(ctx, action, &updated, &before, metadata)
	return &updated, nil
}

func (f *AssignmentFlowImpl) loadForCompany(ctx context.Context, id, companyID uint) (*models.Assignment, error) {
	current, err := f.assignmentRepo.ByID(ctx, id)
	if err != nil {
		return nil, transientError("ASSIGNMENT_LOOKUP_FAILED", "Failed to load assignment", err)
	}
	if current == nil || current.CompanyID != companyID {
		return nil, NewBusinessErrorf("ASSIGNMENT_NOT_FOUND", "assignment %d not found in company %d", ErrAssignmentNotFound, id, companyID)
	}
	return current, nil
}

// checkOwner verifies that a user may own assignments
func (f *AssignmentFlowImpl) checkOwner(ctx context.Context, userID uint) error {
	user, err := f.userRepo.ByID(ctx, userID)
	if err != nil {
		return transientError("USER_LOOKUP_FAILED", "Failed to load user", err)
	}
	if user == nil {
		return NewBusinessErrorf("USER_NOT_FOUND", "user %d not found", ErrUserNotFound, userID)
	}
	if !user.Eligible() {
		return NewBusinessErrorf("USER_NOT_ELIGIBLE", "user %d cannot receive assignments", ErrUserNotEligible, userID)
	}
	return nil
}

func (f *AssignmentFlowImpl) fail(ctx context.Context, op any, assignmentID, companyID *uint, err error, payload any, metadata *ClientMetadata) error {
	f.audit.recordFailure(ctx, auditEntry{
		Action:       models.AuditActionTransitionFailed,
		AssignmentID: assignmentID,
		CompanyID:    companyID,
		Description:  fmt.Sprintf("%v failed", op),
		Payload:      payload,
		Err:          err,
	}, metadata)
	return err
}

func (f *AssignmentFlowImpl) notify(ctx context.Context, action string, assignment *models.Assignment, before *AssignmentSnapshot, metadata *ClientMetadata) {
	if f.sink == nil {
		return
	}

	event := AssignmentEvent{
		Action:     action,
		Assignment: *assignment,
		Before:     before,
		After:      snapshotOf(assignment),
		Actor:      metadata.Actor,
		OccurredAt: utils.UTCNow(),
	}
	if err := f.sink.NotifyAssignmentChanged(ctx, event); err != nil {
		f.logger.Warn("Assignment notification failed",
			"assignment_id", assignment.ID,
			"action", action,
			"error", err,
		)
	}
}

func validateCreateInput(input CreateAssignmentInput) error {
	var missing []string
	if input.CompanyID == 0 {
		missing = append(missing, "company_id")
	}
	if strings.TrimSpace(input.ClaimID) == "" {
		missing = append(missing, "claim_id")
	}
	if strings.TrimSpace(input.DocumentNumber) == "" {
		missing = append(missing, "document_number")
	}
	if strings.TrimSpace(input.Source) == "" {
		missing = append(missing, "source")
	}
	if len(missing) == 0 {
		return nil
	}
	return NewBusinessErrorf("ASSIGNMENT_INPUT_INVALID", "missing fields: %s", ErrInvalidRequest, strings.Join(missing, ", "))
}
