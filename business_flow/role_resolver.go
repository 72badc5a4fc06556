package businessflow

import (
	"context"
	"sort"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
)

// RoleResolver turns a rule's authorized roles into eligible users.
// Bindings are resolved globally: a rule may authorize reviewers of another company.
type RoleResolver interface {
	UsersFor(ctx context.Context, roleIDs []uint) ([]*models.User, error)
}

// RoleResolverImpl implements RoleResolver on the user repository
type RoleResolverImpl struct {
	userRepo repository.UserRepository
}

// NewRoleResolver creates a role resolver
func NewRoleResolver(userRepo repository.UserRepository) RoleResolver {
	return &RoleResolverImpl{userRepo: userRepo}
}

// UsersFor returns active users bound to any of roleIDs, deduplicated and ordered by id
func (r *RoleResolverImpl) UsersFor(ctx context.Context, roleIDs []uint) ([]*models.User, error) {
	if len(roleIDs) == 0 {
		return []*models.User{}, nil
	}

	users, err := r.userRepo.ActiveByRoleIDs(ctx, roleIDs)
	if err != nil {
		return nil, transientError("ROLE_RESOLUTION_FAILED", "Failed to resolve users for roles", err)
	}

	seen := make(map[uint]struct{}, len(users))
	eligible := make([]*models.User, 0, len(users))
	for _, u := range users {
		if u == nil || !u.Eligible() {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		eligible = append(eligible, u)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	return eligible, nil
}
