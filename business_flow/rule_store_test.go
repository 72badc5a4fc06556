package businessflow

import (
	"context"
	"testing"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedRuleStore_WithoutRedis(t *testing.T) {
	ctx := context.Background()
	disabled := activeRule(2, models.RuleTypeCompany)
	disabled.IsActive = utils.ToPtr(false)
	repo := newFakeRuleRepo(activeRule(1, "CUSTOM"), disabled)
	store := NewCachedRuleStore(repo, nil, 0, discardLogger())

	rules, err := store.ActiveRules(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, uint(1), rules[0].ID)

	store.Invalidate(ctx, 1)
	_, err = store.ActiveRules(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.reads)
	assert.Equal(t, utils.DefaultRuleCacheTTL, store.ttl)
}

func TestCachedRuleStore_RepositoryFailureIsTransient(t *testing.T) {
	repo := newFakeRuleRepo()
	repo.err = errDatabaseDown
	store := NewCachedRuleStore(repo, nil, 0, discardLogger())

	_, err := store.ActiveRules(context.Background(), 1)

	assert.True(t, IsTransient(err))
	assert.Equal(t, "RULE_STORE_UNAVAILABLE", ErrorCode(err))
}
