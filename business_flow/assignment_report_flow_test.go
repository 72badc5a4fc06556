package businessflow

import (
	"bytes"
	"context"
	"testing"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestAssignmentReportFlow_ExportCompany(t *testing.T) {
	ctx := context.Background()

	companies := &fakeCompanyRepo{companies: []*models.Company{
		{ID: 1, NIT: "900123456", Name: "Acme: Claims/Dept", IsActive: utils.ToPtr(true)},
	}}
	assignments := newFakeAssignmentRepo()
	assignments.put(models.Assignment{CompanyID: 1, ClaimID: "CL-1", DocumentNumber: "FV-1", Value: decimal.RequireFromString("10.5"), Status: models.AssignmentStatusAssigned, UserID: utils.ToPtr(uint(7))})
	assignments.put(models.Assignment{CompanyID: 1, ClaimID: "CL-2", DocumentNumber: "FV-2", Value: decimal.RequireFromString("99"), Status: models.AssignmentStatusCompleted, EndDate: utils.UTCNowPtr()})
	assignments.put(models.Assignment{CompanyID: 2, ClaimID: "CL-3", DocumentNumber: "FV-3", Status: models.AssignmentStatusPending})

	flow := NewAssignmentReportFlow(assignments, companies)

	readRows := func(t *testing.T, content []byte) [][]string {
		t.Helper()
		xl, err := excelize.OpenReader(bytes.NewReader(content))
		require.NoError(t, err)
		defer xl.Close()
		rows, err := xl.GetRows("Acme_ Claims_Dept")
		require.NoError(t, err)
		return rows
	}

	t.Run("AllStatuses", func(t *testing.T) {
		name, content, err := flow.ExportCompany(ctx, 1, nil)
		require.NoError(t, err)
		assert.Contains(t, name, "assignments_company_1_")

		rows := readRows(t, content)
		require.Len(t, rows, 3)
		assert.Equal(t, "claim_id", rows[0][2])
		assert.Equal(t, "CL-1", rows[1][2])
		assert.Equal(t, "10.50", rows[1][6])
		assert.Equal(t, "7", rows[1][9])
		assert.Equal(t, "CL-2", rows[2][2])
	})

	t.Run("FilteredByStatus", func(t *testing.T) {
		status := models.AssignmentStatusCompleted
		_, content, err := flow.ExportCompany(ctx, 1, &status)
		require.NoError(t, err)

		rows := readRows(t, content)
		require.Len(t, rows, 2)
		assert.Equal(t, "completed", rows[1][8])
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		status := models.AssignmentStatus("archived")
		_, _, err := flow.ExportCompany(ctx, 1, &status)
		assert.True(t, IsValidation(err))
	})

	t.Run("UnknownCompany", func(t *testing.T) {
		_, _, err := flow.ExportCompany(ctx, 42, nil)
		assert.True(t, IsNotFound(err))
	})
}

func TestSanitizeSheetName(t *testing.T) {
	assert.Equal(t, "Assignments", sanitizeSheetName(""))
	assert.Equal(t, "a_b_c", sanitizeSheetName("a/b?c"))
	assert.Len(t, []rune(sanitizeSheetName("a very long company name that exceeds the limit")), 31)
}
