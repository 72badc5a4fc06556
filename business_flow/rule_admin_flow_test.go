package businessflow

import (
	"context"
	"testing"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ruleAdminFixture struct {
	rules *fakeRuleRepo
	store *staticRuleStore
	audit *fakeAuditRepo
	flow  RuleAdminFlow
}

func newRuleAdminFixture(existing ...*models.Rule) *ruleAdminFixture {
	fx := &ruleAdminFixture{
		rules: newFakeRuleRepo(existing...),
		store: &staticRuleStore{},
		audit: &fakeAuditRepo{},
	}
	companies := &fakeCompanyRepo{companies: []*models.Company{{ID: 1, NIT: "900100200", IsActive: utils.ToPtr(true)}}}
	roles := &fakeRoleRepo{roles: map[uint]*models.Role{
		10: {ID: 10, CompanyID: 1, Name: "Reviewers"},
		11: {ID: 11, CompanyID: 2, Name: "Auditors"},
	}}
	fx.flow = NewRuleAdminFlow(companies, fx.rules, roles, fx.store, fx.audit, passthroughTx{}, discardLogger())
	return fx
}

func TestRuleAdminFlow_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("StoresNormalizedRuleAndInvalidatesCache", func(t *testing.T) {
		fx := newRuleAdminFixture()

		rule, err := fx.flow.Create(ctx, 1, RuleInput{
			Name:          " High value ",
			Type:          "code-amount",
			MinimumAmount: dec("1000"),
			MaximumAmount: dec("50000"),
			ObjectionCode: utils.ToPtr(" OBJ-9 "),
			// COMPANY is not part of CODE-AMOUNT and must be dropped
			NITAssociatedCompany: utils.ToPtr("800000513"),
			RoleIDs:              []uint{11, 10, 11},
		}, nil)

		require.NoError(t, err)
		assert.NotZero(t, rule.ID)
		assert.Equal(t, "High value", rule.Name)
		assert.Equal(t, models.RuleTypeCodeAmount, rule.Type)
		assert.Equal(t, "OBJ-9", *rule.ObjectionCode)
		assert.Nil(t, rule.NITAssociatedCompany)
		assert.True(t, rule.Active())
		assert.Equal(t, []uint{11, 10}, rule.RoleIDs())
		assert.Equal(t, []uint{1, 1}, fx.store.invalidated)
		assert.Len(t, fx.audit.withAction(models.AuditActionRuleCreated), 1)
	})

	t.Run("RejectsMissingConditionFields", func(t *testing.T) {
		fx := newRuleAdminFixture()

		_, err := fx.flow.Create(ctx, 1, RuleInput{Name: "r", Type: models.RuleTypeAmount, MinimumAmount: dec("1"), RoleIDs: []uint{10}}, nil)

		assert.ErrorIs(t, err, ErrInvalidRule)
		assert.Equal(t, "RULE_INVALID", ErrorCode(err))
		assert.Empty(t, fx.store.invalidated)
		assert.Len(t, fx.audit.withAction(models.AuditActionRuleWriteFailed), 1)
	})

	t.Run("RejectsInvertedAmountRange", func(t *testing.T) {
		fx := newRuleAdminFixture()

		_, err := fx.flow.Create(ctx, 1, RuleInput{Name: "r", Type: models.RuleTypeAmount, MinimumAmount: dec("9"), MaximumAmount: dec("1"), RoleIDs: []uint{10}}, nil)

		assert.True(t, IsValidation(err))
	})

	t.Run("RequiresKnownRoles", func(t *testing.T) {
		fx := newRuleAdminFixture()

		_, err := fx.flow.Create(ctx, 1, RuleInput{Name: "r", Type: "CUSTOM", RoleIDs: []uint{10, 77}}, nil)
		assert.ErrorIs(t, err, ErrRuleRoleNotFound)

		_, err = fx.flow.Create(ctx, 1, RuleInput{Name: "r", Type: "CUSTOM"}, nil)
		assert.ErrorIs(t, err, ErrRuleRolesRequired)
	})

	t.Run("RequiresName", func(t *testing.T) {
		fx := newRuleAdminFixture()

		_, err := fx.flow.Create(ctx, 1, RuleInput{Name: "  ", Type: "CUSTOM", RoleIDs: []uint{10}}, nil)

		assert.ErrorIs(t, err, ErrRuleNameRequired)
	})

	t.Run("UnknownCompanyIsNotFound", func(t *testing.T) {
		fx := newRuleAdminFixture()

		_, err := fx.flow.Create(ctx, 42, RuleInput{Name: "r", Type: "CUSTOM", RoleIDs: []uint{10}}, nil)

		assert.True(t, IsCompanyNotFound(err))
	})

	t.Run("StorageFailureIsTransient", func(t *testing.T) {
		fx := newRuleAdminFixture()
		fx.rules.err = errDatabaseDown

		_, err := fx.flow.Create(ctx, 1, RuleInput{Name: "r", Type: "CUSTOM", RoleIDs: []uint{10}}, nil)

		assert.True(t, IsTransient(err))
	})
}

func TestRuleAdminFlow_UpdateAndSetActive(t *testing.T) {
	ctx := context.Background()

	t.Run("UpdateReplacesFields", func(t *testing.T) {
		fx := newRuleAdminFixture(withRoles(withCode(activeRule(5, models.RuleTypeCode), "OBJ-1"), 10))

		rule, err := fx.flow.Update(ctx, 1, 5, RuleInput{Name: "Renamed", Type: models.RuleTypeCompany, NITAssociatedCompany: utils.ToPtr("800000513"), RoleIDs: []uint{11}}, nil)

		require.NoError(t, err)
		assert.Equal(t, uint(5), rule.ID)
		assert.Nil(t, rule.ObjectionCode)
		assert.True(t, rule.Active())
		stored, _ := fx.rules.ByID(ctx, 5)
		assert.Equal(t, "Renamed", stored.Name)
		assert.Equal(t, []uint{11}, stored.RoleIDs())
		assert.Len(t, fx.audit.withAction(models.AuditActionRuleUpdated), 1)
	})

	t.Run("RuleOfAnotherCompanyIsNotFound", func(t *testing.T) {
		other := activeRule(5, "CUSTOM")
		other.CompanyID = 2
		fx := newRuleAdminFixture(other)

		_, err := fx.flow.Update(ctx, 1, 5, RuleInput{Name: "x", Type: "CUSTOM", RoleIDs: []uint{10}}, nil)

		assert.True(t, IsRuleNotFound(err))
	})

	t.Run("SetActiveTogglesOnce", func(t *testing.T) {
		fx := newRuleAdminFixture(activeRule(5, "CUSTOM"))

		rule, err := fx.flow.SetActive(ctx, 1, 5, false, nil)
		require.NoError(t, err)
		assert.False(t, rule.Active())

		_, err = fx.flow.SetActive(ctx, 1, 5, false, nil)
		require.NoError(t, err)
		assert.Len(t, fx.audit.withAction(models.AuditActionRuleActivationChanged), 1)
		assert.Equal(t, []uint{1, 1}, fx.store.invalidated)

		active, err := fx.flow.List(ctx, 1, false)
		require.NoError(t, err)
		assert.Empty(t, active)

		all, err := fx.flow.List(ctx, 1, true)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}
