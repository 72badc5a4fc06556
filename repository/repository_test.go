package repository_test

import (
	"context"
	"sync"
	"testing"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	testingutil "github.com/amirphl/claim-router/testing"
	"github.com/amirphl/claim-router/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentRepository(t *testing.T) {
	testingutil.TestWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		repo := repository.NewAssignmentRepository(testDB.DB)
		ctx := testingutil.CreateTestContext()

		company, err := fixtures.CreateTestCompany()
		require.NoError(t, err)
		user, err := fixtures.CreateTestUser(true)
		require.NoError(t, err)

		t.Run("CreateIfAbsent", func(t *testing.T) {
			a := testingutil.NewTestAssignment(company.ID, &user.ID, models.AssignmentStatusAssigned)
			stored, created, err := repo.CreateIfAbsent(ctx, a)
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotZero(t, stored.ID)
			assert.Equal(t, int64(1), stored.Version)

			dup := testingutil.NewTestAssignment(company.ID, nil, models.AssignmentStatusPending)
			dup.ClaimID, dup.DocumentNumber = a.ClaimID, a.DocumentNumber
			existing, created, err := repo.CreateIfAbsent(ctx, dup)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, stored.ID, existing.ID)
			assert.Equal(t, models.AssignmentStatusAssigned, existing.Status)
		})

		t.Run("CreateIfAbsentConcurrent", func(t *testing.T) {
			template := testingutil.NewTestAssignment(company.ID, &user.ID, models.AssignmentStatusAssigned)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				inserts int
				ids     = map[uint]struct{}{}
			)
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					a := *template
					stored, created, err := repo.CreateIfAbsent(context.Background(), &a)
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					if created {
						inserts++
					}
					ids[stored.ID] = struct{}{}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, inserts)
			assert.Len(t, ids, 1)
		})

		t.Run("ByNaturalKeyNotFound", func(t *testing.T) {
			a, err := repo.ByNaturalKey(ctx, "missing", "missing")
			assert.NoError(t, err)
			assert.Nil(t, a)
		})

		t.Run("UpdateStateCompareAndSwap", func(t *testing.T) {
			a := testingutil.NewTestAssignment(company.ID, &user.ID, models.AssignmentStatusAssigned)
			stored, _, err := repo.CreateIfAbsent(ctx, a)
			require.NoError(t, err)

			swapped, err := repo.UpdateState(ctx, stored.ID, models.AssignmentStatusAssigned, stored.Version,
				models.AssignmentChanges{Status: models.AssignmentStatusActive, UserID: &user.ID})
			require.NoError(t, err)
			assert.True(t, swapped)

			// Stale version loses
			swapped, err = repo.UpdateState(ctx, stored.ID, models.AssignmentStatusAssigned, stored.Version,
				models.AssignmentChanges{Status: models.AssignmentStatusCancelled, EndDate: utils.UTCNowPtr()})
			require.NoError(t, err)
			assert.False(t, swapped)

			reloaded, err := repo.ByID(ctx, stored.ID)
			require.NoError(t, err)
			assert.Equal(t, models.AssignmentStatusActive, reloaded.Status)
			assert.Equal(t, stored.Version+1, reloaded.Version)
			assert.Nil(t, reloaded.EndDate)
		})

		t.Run("CountOpenByUsers", func(t *testing.T) {
			other, err := fixtures.CreateTestUser(true)
			require.NoError(t, err)
			for _, status := range []models.AssignmentStatus{
				models.AssignmentStatusAssigned,
				models.AssignmentStatusActive,
				models.AssignmentStatusCompleted,
			} {
				_, _, err := repo.CreateIfAbsent(ctx, testingutil.NewTestAssignment(company.ID, &other.ID, status))
				require.NoError(t, err)
			}

			idle, err := fixtures.CreateTestUser(true)
			require.NoError(t, err)

			counts, err := repo.CountOpenByUsers(ctx, []uint{other.ID, idle.ID})
			require.NoError(t, err)
			assert.Equal(t, int64(2), counts[other.ID])
			_, present := counts[idle.ID]
			assert.False(t, present)
		})

		t.Run("ByFilterAndCount", func(t *testing.T) {
			status := models.AssignmentStatusCompleted
			filter := models.AssignmentFilter{CompanyID: &company.ID, Status: &status}

			list, err := repo.ByFilter(ctx, filter, "", 0, 0)
			require.NoError(t, err)
			count, err := repo.Count(ctx, filter)
			require.NoError(t, err)
			assert.Equal(t, int64(len(list)), count)
			for _, a := range list {
				assert.Equal(t, models.AssignmentStatusCompleted, a.Status)
			}
		})

		t.Run("Delete", func(t *testing.T) {
			stored, _, err := repo.CreateIfAbsent(ctx, testingutil.NewTestAssignment(company.ID, nil, models.AssignmentStatusPending))
			require.NoError(t, err)
			require.NoError(t, repo.Delete(ctx, stored.ID))

			gone, err := repo.ByID(ctx, stored.ID)
			assert.NoError(t, err)
			assert.Nil(t, gone)
		})

		return nil
	})
}

func TestUserRepositoryActiveByRoleIDs(t *testing.T) {
	testingutil.TestWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		repo := repository.NewUserRepository(testDB.DB)
		ctx := testingutil.CreateTestContext()

		owner, err := fixtures.CreateTestCompany()
		require.NoError(t, err)
		foreign, err := fixtures.CreateTestCompany()
		require.NoError(t, err)

		reviewers, err := fixtures.CreateTestRole(owner.ID, "Reviewers")
		require.NoError(t, err)
		auditors, err := fixtures.CreateTestRole(foreign.ID, "Auditors")
		require.NoError(t, err)

		both, err := fixtures.CreateTestUser(true, reviewers.ID, auditors.ID)
		require.NoError(t, err)
		crossCompany, err := fixtures.CreateTestUser(true, auditors.ID)
		require.NoError(t, err)
		_, err = fixtures.CreateTestUser(false, reviewers.ID)
		require.NoError(t, err)

		users, err := repo.ActiveByRoleIDs(ctx, []uint{reviewers.ID, auditors.ID})
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, both.ID, users[0].ID)
		assert.Equal(t, crossCompany.ID, users[1].ID)

		none, err := repo.ActiveByRoleIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	})
}

func TestRuleRepository(t *testing.T) {
	testingutil.TestWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		repo := repository.NewRuleRepository(testDB.DB)
		ctx := testingutil.CreateTestContext()

		company, err := fixtures.CreateTestCompany()
		require.NoError(t, err)
		first, err := fixtures.CreateTestRole(company.ID, "First line")
		require.NoError(t, err)
		second, err := fixtures.CreateTestRole(company.ID, "Second line")
		require.NoError(t, err)

		rule, err := fixtures.CreateTestRule(company, second.ID, first.ID)
		require.NoError(t, err)

		t.Run("ByIDKeepsRoleOrder", func(t *testing.T) {
			loaded, err := repo.ByID(ctx, rule.ID)
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, []uint{second.ID, first.ID}, loaded.RoleIDs())
		})

		t.Run("UpdateReplacesRoles", func(t *testing.T) {
			loaded, err := repo.ByID(ctx, rule.ID)
			require.NoError(t, err)
			loaded.Name = "Renamed"
			loaded.RoleLinks = []models.RuleRole{{RoleID: first.ID, Position: 0}}
			require.NoError(t, repo.Update(ctx, loaded))

			reloaded, err := repo.ByID(ctx, rule.ID)
			require.NoError(t, err)
			assert.Equal(t, "Renamed", reloaded.Name)
			assert.Equal(t, []uint{first.ID}, reloaded.RoleIDs())
		})

		t.Run("SetActiveHidesFromActiveListing", func(t *testing.T) {
			require.NoError(t, repo.SetActive(ctx, rule.ID, false))

			active, err := repo.ByCompany(ctx, company.ID, true)
			require.NoError(t, err)
			assert.Empty(t, active)

			all, err := repo.ByCompany(ctx, company.ID, false)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.False(t, all[0].Active())
		})

		return nil
	})
}
