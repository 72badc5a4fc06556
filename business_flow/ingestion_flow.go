package businessflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
	"github.com/go-playground/validator/v10"
)

// IngestionOutcome summarizes what happened to one claim
type IngestionOutcome string

const (
	OutcomeAssigned  IngestionOutcome = "assigned"
	OutcomePending   IngestionOutcome = "pending"
	OutcomeDuplicate IngestionOutcome = "duplicate"
	OutcomeNoRoute   IngestionOutcome = "no_route"
)

// IngestionResult is the routing decision taken for a claim
type IngestionResult struct {
	Outcome       IngestionOutcome   `json:"outcome"`
	Assignment    *models.Assignment `json:"assignment,omitempty"`
	MatchedRule   *models.Rule       `json:"matched_rule,omitempty"`
	SelectedUser  *models.User       `json:"selected_user,omitempty"`
	Created       bool               `json:"created"`
	CandidateIDs  []uint             `json:"candidate_rule_ids,omitempty"`
	Misconfigured []string           `json:"misconfigured_rules,omitempty"`
}

// IngestionPipeline routes one claim into an assignment
type IngestionPipeline interface {
	// Process returns a result together with an error wrapping ErrNoRoute when no rule applied
	Process(ctx context.Context, claim *models.Claim, metadata *ClientMetadata) (*IngestionResult, error)
}

// IngestionFlowImpl implements IngestionPipeline
type IngestionFlowImpl struct {
	companyRepo repository.CompanyRepository
	rules       RuleStore
	matcher     *RuleMatcher
	resolver    RoleResolver
	policy      UserSelectionPolicy
	lifecycle   AssignmentLifecycle
	locker      KeyLocker
	audit       *auditRecorder
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewIngestionFlow creates the ingestion pipeline
func NewIngestionFlow(
	companyRepo repository.CompanyRepository,
	rules RuleStore,
	matcher *RuleMatcher,
	resolver RoleResolver,
	policy UserSelectionPolicy,
	lifecycle AssignmentLifecycle,
	locker KeyLocker,
	auditRepo repository.AuditLogRepository,
	logger *slog.Logger,
) IngestionPipeline {
	return &IngestionFlowImpl{
		companyRepo: companyRepo,
		rules:       rules,
		matcher:     matcher,
		resolver:    resolver,
		policy:      policy,
		lifecycle:   lifecycle,
		locker:      locker,
		audit:       newAuditRecorder(auditRepo, logger),
		validator:   validator.New(),
		logger:      logger,
	}
}

// Process validates the claim, matches it against the target company's rules,
// picks an owner among the authorized users and creates the assignment.
func (p *IngestionFlowImpl) Process(ctx context.Context, claim *models.Claim, metadata *ClientMetadata) (*IngestionResult, error) {
	metadata = metadataOrSystem(metadata)

	if claim == nil {
		return nil, p.reject(ctx, nil, NewBusinessError("CLAIM_MALFORMED", "claim is empty", ErrClaimMalformed), nil, metadata)
	}
	if err := p.validator.Struct(claim); err != nil {
		return nil, p.reject(ctx, nil, NewBusinessError("CLAIM_MALFORMED", "claim is missing required fields", fmt.Errorf("%w: %v", ErrClaimMalformed, err)), claim, metadata)
	}

	logger := p.logger.With(
		"claim_id", claim.ClaimID,
		"document_number", claim.DocumentNumber,
		"target", claim.Target,
	)

	company, err := p.companyRepo.ByNIT(ctx, claim.Target)
	if err != nil {
		return nil, p.failTransient(ctx, nil, transientError("COMPANY_LOOKUP_FAILED", "Failed to load target company", err), claim, metadata)
	}
	if company == nil {
		return nil, p.reject(ctx, nil, NewBusinessErrorf("COMPANY_NOT_FOUND", "no company with NIT %s", ErrCompanyNotFound, claim.Target), claim, metadata)
	}
	if !company.Active() {
		return nil, p.reject(ctx, &company.ID, NewBusinessErrorf("COMPANY_INACTIVE", "company with NIT %s is inactive", ErrCompanyInactive, claim.Target), claim, metadata)
	}

	// Held until the assignment is stored; a stored key short-circuits before user selection
	unlock, err := p.locker.Lock(ctx, utils.NaturalKey(claim.ClaimID, claim.DocumentNumber))
	if err != nil {
		return nil, p.failTransient(ctx, &company.ID, err, claim, metadata)
	}
	defer unlock()

	existing, owner, err := p.lifecycle.FindByNaturalKey(ctx, claim.ClaimID, claim.DocumentNumber)
	if err != nil {
		return nil, p.failTransient(ctx, &company.ID, err, claim, metadata)
	}

	rules, err := p.rules.ActiveRules(ctx, company.ID)
	if err != nil {
		return nil, p.failTransient(ctx, &company.ID, err, claim, metadata)
	}

	if existing != nil {
		result := &IngestionResult{
			Outcome:      OutcomeDuplicate,
			Assignment:   existing,
			SelectedUser: owner,
		}
		if existing.MatchedRuleID != nil {
			for _, rule := range rules {
				if rule.ID == *existing.MatchedRuleID {
					result.MatchedRule = rule
					break
				}
			}
		}
		logger.Info("Claim already routed", "assignment_id", existing.ID, "status", existing.Status)
		return result, nil
	}

	match := p.matcher.Resolve(claim, rules)
	result := &IngestionResult{}
	for _, c := range match.Candidates {
		result.CandidateIDs = append(result.CandidateIDs, c.Rule.ID)
	}
	for _, e := range match.Misconfigured {
		result.Misconfigured = append(result.Misconfigured, e.Error())
	}

	if !match.Routed() {
		result.Outcome = OutcomeNoRoute
		err := NewBusinessErrorf("NO_ROUTE", "no active rule of company %d matches claim %s", ErrNoRoute, company.ID, claim.ClaimID)
		p.audit.recordFailure(ctx, auditEntry{
			Action:      models.AuditActionClaimNoRoute,
			CompanyID:   &company.ID,
			Description: "No applicable routing rule",
			Payload:     claim,
			Err:         err,
		}, metadata)
		logger.Warn("Claim has no applicable routing rule", "company_id", company.ID, "rules", len(rules))
		return result, err
	}
	result.MatchedRule = match.Winner

	users, err := p.resolver.UsersFor(ctx, match.Winner.RoleIDs())
	if err != nil {
		return nil, p.failTransient(ctx, &company.ID, err, claim, metadata)
	}

	var ownerID *uint
	if len(users) > 0 {
		selected, err := p.policy.Select(ctx, match.Winner, users)
		if err != nil {
			return nil, p.failTransient(ctx, &company.ID, err, claim, metadata)
		}
		result.SelectedUser = selected
		ownerID = &selected.ID
	} else {
		logger.Warn("Matched rule has no eligible users, assignment left pending", "rule_id", match.Winner.ID)
	}

	created, err := p.lifecycle.Create(ctx, CreateAssignmentInput{
		CompanyID:      company.ID,
		UserID:         ownerID,
		MatchedRuleID:  &match.Winner.ID,
		ClaimID:        claim.ClaimID,
		DocumentNumber: claim.DocumentNumber,
		Source:         claim.Source,
		ObjectionCode:  claim.ObjectionCode,
		Value:          claim.Amount(),
		ProcessID:      claim.ProcessID,
	}, metadata)
	if err != nil {
		return nil, err
	}

	result.Assignment = created.Assignment
	result.Created = created.Created
	switch {
	case !created.Created:
		result.Outcome = OutcomeDuplicate
	case created.Assignment.Status == models.AssignmentStatusPending:
		result.Outcome = OutcomePending
	default:
		result.Outcome = OutcomeAssigned
	}

	logger.Info("Claim routed",
		"assignment_id", created.Assignment.ID,
		"rule_id", match.Winner.ID,
		"rule_type", match.Winner.Type,
		"outcome", result.Outcome,
	)
	return result, nil
}

// reject records a permanent failure
func (p *IngestionFlowImpl) reject(ctx context.Context, companyID *uint, err error, claim *models.Claim, metadata *ClientMetadata) error {
	p.audit.recordFailure(ctx, auditEntry{
		Action:      models.AuditActionClaimRejected,
		CompanyID:   companyID,
		Description: "Claim rejected",
		Payload:     claim,
		Err:         err,
	}, metadata)
	p.logger.Warn("Claim rejected", "error", err)
	return err
}

// failTransient records a retryable failure
func (p *IngestionFlowImpl) failTransient(ctx context.Context, companyID *uint, err error, claim *models.Claim, metadata *ClientMetadata) error {
	err = transientError("INGESTION_FAILED", "Claim processing failed", err)
	p.audit.recordFailure(ctx, auditEntry{
		Action:      models.AuditActionClaimFailed,
		CompanyID:   companyID,
		Description: "Claim processing failed",
		Payload:     claim,
		Err:         err,
	}, metadata)
	p.logger.Error("Claim processing failed", "error", err)
	return err
}

// Disposition tells the consumer what to do with a delivered message
type Disposition int

const (
	// DispositionAck acknowledges the message
	DispositionAck Disposition = iota
	// DispositionDeadLetter moves the message to the dead-letter stream
	DispositionDeadLetter
	// DispositionRetry leaves the message unacknowledged for redelivery
	DispositionRetry
)

func (d Disposition) String() string {
	switch d {
	case DispositionAck:
		return "ack"
	case DispositionDeadLetter:
		return "dead_letter"
	default:
		return "retry"
	}
}

// ClassifyIngestionError maps a pipeline error to a message disposition.
// Unclassified errors are retried; the delivery limit bounds them.
func ClassifyIngestionError(err error) Disposition {
	switch ErrorKind(err) {
	case "", KindNoRoute:
		return DispositionAck
	case KindValidation, KindNotFound, KindInvalidTransition:
		return DispositionDeadLetter
	default:
		return DispositionRetry
	}
}
