package businessflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
	"github.com/redis/go-redis/v9"
)

// Selection policy names accepted by configuration
const (
	SelectionPolicyFirst       = "first"
	SelectionPolicyRoundRobin  = "round_robin"
	SelectionPolicyLeastLoaded = "least_loaded"
)

// UserSelectionPolicy picks exactly one owner among the eligible users of a rule.
// users is never empty and is ordered by id.
type UserSelectionPolicy interface {
	Name() string
	Select(ctx context.Context, rule *models.Rule, users []*models.User) (*models.User, error)
}

// NewUserSelectionPolicy builds the policy configured by name
func NewUserSelectionPolicy(name string, rc redis.Cmdable, assignmentRepo repository.AssignmentRepository) (UserSelectionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SelectionPolicyFirst:
		return FirstEligiblePolicy{}, nil
	case SelectionPolicyRoundRobin:
		return NewRoundRobinPolicy(rc), nil
	case SelectionPolicyLeastLoaded:
		return NewLeastLoadedPolicy(assignmentRepo), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSelectionMode, name)
	}
}

// FirstEligiblePolicy always picks the user with the lowest id
type FirstEligiblePolicy struct{}

func (FirstEligiblePolicy) Name() string { return SelectionPolicyFirst }

func (FirstEligiblePolicy) Select(_ context.Context, _ *models.Rule, users []*models.User) (*models.User, error) {
	return users[0], nil
}

// RoundRobinPolicy rotates through the eligible users of each rule.
// The cursor lives in Redis so several replicas share it; without Redis it is process-local.
type RoundRobinPolicy struct {
	rc redis.Cmdable

	mu    sync.Mutex
	local map[uint]uint64
}

// NewRoundRobinPolicy creates a round robin policy; rc may be nil
func NewRoundRobinPolicy(rc redis.Cmdable) *RoundRobinPolicy {
	return &RoundRobinPolicy{rc: rc, local: make(map[uint]uint64)}
}

func (p *RoundRobinPolicy) Name() string { return SelectionPolicyRoundRobin }

func (p *RoundRobinPolicy) Select(ctx context.Context, rule *models.Rule, users []*models.User) (*models.User, error) {
	var ruleID uint
	if rule != nil {
		ruleID = rule.ID
	}

	next, err := p.advance(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return users[(next-1)%uint64(len(users))], nil
}

func (p *RoundRobinPolicy) advance(ctx context.Context, ruleID uint) (uint64, error) {
	if p.rc != nil {
		n, err := p.rc.Incr(ctx, fmt.Sprintf("%s%d", utils.RoundRobinKeyPrefix, ruleID)).Result()
		if err != nil {
			return 0, transientError("ROUND_ROBIN_FAILED", "Failed to advance round robin cursor", err)
		}
		return uint64(n), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.local[ruleID]++
	return p.local[ruleID], nil
}

// LeastLoadedPolicy picks the user with the fewest open assignments, lowest id on ties
type LeastLoadedPolicy struct {
	assignmentRepo repository.AssignmentRepository
}

// NewLeastLoadedPolicy creates a least loaded policy
func NewLeastLoadedPolicy(assignmentRepo repository.AssignmentRepository) *LeastLoadedPolicy {
	return &LeastLoadedPolicy{assignmentRepo: assignmentRepo}
}

func (p *LeastLoadedPolicy) Name() string { return SelectionPolicyLeastLoaded }

func (p *LeastLoadedPolicy) Select(ctx context.Context, _ *models.Rule, users []*models.User) (*models.User, error) {
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	loads, err := p.assignmentRepo.CountOpenByUsers(ctx, ids)
	if err != nil {
		return nil, transientError("LOAD_LOOKUP_FAILED", "Failed to count open assignments", err)
	}

	best := users[0]
	for _, u := range users[1:] {
		if loads[u.ID] < loads[best.ID] {
			best = u
		}
	}
	return best, nil
}
