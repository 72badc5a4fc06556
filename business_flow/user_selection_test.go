package businessflow

import (
	"context"
	"testing"

	"github.com/amirphl/claim-router/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersWithIDs(ids ...uint) []*models.User {
	out := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.User{ID: id})
	}
	return out
}

func TestNewUserSelectionPolicy(t *testing.T) {
	repo := newFakeAssignmentRepo()

	for name, want := range map[string]string{
		"":              SelectionPolicyFirst,
		"first":         SelectionPolicyFirst,
		" Round_Robin ": SelectionPolicyRoundRobin,
		"least_loaded":  SelectionPolicyLeastLoaded,
	} {
		policy, err := NewUserSelectionPolicy(name, nil, repo)
		require.NoError(t, err, name)
		assert.Equal(t, want, policy.Name())
	}

	_, err := NewUserSelectionPolicy("random", nil, repo)
	assert.ErrorIs(t, err, ErrUnknownSelectionMode)
	assert.True(t, IsValidation(err))
}

func TestFirstEligiblePolicy(t *testing.T) {
	user, err := FirstEligiblePolicy{}.Select(context.Background(), nil, usersWithIDs(2, 5, 9))
	require.NoError(t, err)
	assert.Equal(t, uint(2), user.ID)
}

func TestRoundRobinPolicy_RotatesPerRule(t *testing.T) {
	ctx := context.Background()
	policy := NewRoundRobinPolicy(nil)
	users := usersWithIDs(2, 5, 9)
	ruleA := &models.Rule{ID: 1}
	ruleB := &models.Rule{ID: 2}

	var picked []uint
	for i := 0; i < 4; i++ {
		u, err := policy.Select(ctx, ruleA, users)
		require.NoError(t, err)
		picked = append(picked, u.ID)
	}
	assert.Equal(t, []uint{2, 5, 9, 2}, picked)

	u, err := policy.Select(ctx, ruleB, users)
	require.NoError(t, err)
	assert.Equal(t, uint(2), u.ID)
}

func TestLeastLoadedPolicy(t *testing.T) {
	ctx := context.Background()
	repo := newFakeAssignmentRepo()
	policy := NewLeastLoadedPolicy(repo)

	t.Run("FewestOpenAssignmentsWins", func(t *testing.T) {
		repo.openCounts = map[uint]int64{2: 4, 5: 1, 9: 3}
		u, err := policy.Select(ctx, nil, usersWithIDs(2, 5, 9))
		require.NoError(t, err)
		assert.Equal(t, uint(5), u.ID)
	})

	t.Run("UsersWithoutOpenWorkCountAsZero", func(t *testing.T) {
		repo.openCounts = map[uint]int64{2: 1}
		u, err := policy.Select(ctx, nil, usersWithIDs(2, 5, 9))
		require.NoError(t, err)
		assert.Equal(t, uint(5), u.ID)
	})

	t.Run("TiesGoToLowestID", func(t *testing.T) {
		repo.openCounts = map[uint]int64{2: 2, 5: 2, 9: 2}
		u, err := policy.Select(ctx, nil, usersWithIDs(2, 5, 9))
		require.NoError(t, err)
		assert.Equal(t, uint(2), u.ID)
	})
}

func TestRoleResolver_UsersFor(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserRepo()
	users.add(9, true, 10, 11)
	users.add(4, true, 11)
	users.add(6, false, 10)
	resolver := NewRoleResolver(users)

	t.Run("DeduplicatesAndSortsActiveUsers", func(t *testing.T) {
		got, err := resolver.UsersFor(ctx, []uint{10, 11})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, uint(4), got[0].ID)
		assert.Equal(t, uint(9), got[1].ID)
	})

	t.Run("NoRolesMeansNoUsers", func(t *testing.T) {
		got, err := resolver.UsersFor(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("RepositoryFailureIsTransient", func(t *testing.T) {
		broken := newFakeUserRepo()
		broken.err = errDatabaseDown
		_, err := NewRoleResolver(broken).UsersFor(ctx, []uint{10})
		assert.True(t, IsTransient(err))
	})
}

func TestLocalKeyLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalKeyLocker()

	unlock, err := locker.Lock(ctx, "CL-1/FV-1")
	require.NoError(t, err)

	other, err := locker.Lock(ctx, "CL-2/FV-1")
	require.NoError(t, err)
	other()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = locker.Lock(cancelled, "CL-1/FV-1")
	assert.ErrorIs(t, err, ErrLockUnavailable)

	unlock()
	unlock()

	again, err := locker.Lock(ctx, "CL-1/FV-1")
	require.NoError(t, err)
	again()
	assert.Empty(t, locker.locks)
}
