package businessflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
	"github.com/xuri/excelize/v2"
)

const exportPageSize = 500

// AssignmentReportFlow renders assignment listings as spreadsheets
type AssignmentReportFlow interface {
	ExportCompany(ctx context.Context, companyID uint, status *models.AssignmentStatus) (filename string, content []byte, err error)
}

// AssignmentReportFlowImpl implements AssignmentReportFlow
type AssignmentReportFlowImpl struct {
	assignmentRepo repository.AssignmentRepository
	companyRepo    repository.CompanyRepository
}

// NewAssignmentReportFlow creates the report flow
func NewAssignmentReportFlow(assignmentRepo repository.AssignmentRepository, companyRepo repository.CompanyRepository) AssignmentReportFlow {
	return &AssignmentReportFlowImpl{assignmentRepo: assignmentRepo, companyRepo: companyRepo}
}

// ExportCompany writes every assignment of a company, one row each, into an XLSX workbook
func (f *AssignmentReportFlowImpl) ExportCompany(ctx context.Context, companyID uint, status *models.AssignmentStatus) (string, []byte, error) {
	if status != nil && !status.Valid() {
		return "", nil, NewBusinessErrorf("INVALID_STATUS", "unknown status %q", ErrInvalidRequest, *status)
	}

	company, err := f.companyRepo.ByID(ctx, companyID)
	if err != nil {
		return "", nil, transientError("COMPANY_LOOKUP_FAILED", "Failed to load company", err)
	}
	if company == nil {
		return "", nil, NewBusinessErrorf("COMPANY_NOT_FOUND", "company %d not found", ErrCompanyNotFound, companyID)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := sanitizeSheetName(company.Name)
	xl.SetSheetName(xl.GetSheetName(0), sheet)

	header := []string{"id", "uuid", "claim_id", "document_number", "source", "objection_code", "value", "process_id", "status", "user_id", "matched_rule_id", "start_date", "end_date", "created_at", "updated_at"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	filter := models.AssignmentFilter{CompanyID: &companyID, Status: status}
	row := 2
	for offset := 0; ; offset += exportPageSize {
		page, err := f.assignmentRepo.ByFilter(ctx, filter, "id ASC", exportPageSize, offset)
		if err != nil {
			return "", nil, transientError("ASSIGNMENT_LIST_FAILED", "Failed to list assignments", err)
		}

		for _, a := range page {
			record := []string{
				strconv.FormatUint(uint64(a.ID), 10),
				a.UUID.String(),
				a.ClaimID,
				a.DocumentNumber,
				a.Source,
				a.ObjectionCode,
				a.Value.StringFixed(2),
				strconv.FormatInt(a.ProcessID, 10),
				a.Status.String(),
				optionalID(a.UserID),
				optionalID(a.MatchedRuleID),
				a.StartDate.UTC().Format(time.RFC3339),
				utils.FormatTimePtr(a.EndDate),
				a.CreatedAt.UTC().Format(time.RFC3339),
				a.UpdatedAt.UTC().Format(time.RFC3339),
			}
			cellRef, _ := excelize.CoordinatesToCellName(1, row)
			_ = xl.SetSheetRow(sheet, cellRef, &record)
			row++
		}

		if len(page) < exportPageSize {
			break
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	filename := fmt.Sprintf("assignments_company_%d_%s.xlsx", companyID, utils.UTCNow().Format("20060102"))
	return filename, buf.Bytes(), nil
}

func optionalID(id *uint) string {
	if id == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*id), 10)
}

func sanitizeSheetName(name string) string {
	// Excel sheet names cannot contain : \ / ? * [ ] and must be <= 31 chars
	safe := []rune{}
	for _, r := range name {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			r = '_'
		}
		safe = append(safe, r)
	}
	if len(safe) > 31 {
		safe = safe[:31]
	}
	if len(safe) == 0 {
		return "Assignments"
	}
	return string(safe)
}
