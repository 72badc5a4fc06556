package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errDatabaseDown = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeCompanyRepo struct {
	companies []*models.Company
	err       error
}

func (r *fakeCompanyRepo) ByID(_ context.Context, id uint) (*models.Company, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, c := range r.companies {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCompanyRepo) ByNIT(_ context.Context, nit string) (*models.Company, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, c := range r.companies {
		if c.NIT == nit {
			return c, nil
		}
	}
	return nil, nil
}

type fakeUserRepo struct {
	users    map[uint]*models.User
	bindings map[uint][]uint
	err      error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uint]*models.User{}, bindings: map[uint][]uint{}}
}

func (r *fakeUserRepo) add(id uint, active bool, roleIDs ...uint) {
	r.users[id] = &models.User{ID: id, DocumentType: "CC", DocumentNumber: uuid.NewString(), IsActive: utils.ToPtr(active)}
	for _, role := range roleIDs {
		r.bindings[role] = append(r.bindings[role], id)
	}
}

func (r *fakeUserRepo) ByID(_ context.Context, id uint) (*models.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.users[id], nil
}

func (r *fakeUserRepo) ActiveByRoleIDs(_ context.Context, roleIDs []uint) ([]*models.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.User
	for _, role := range roleIDs {
		for _, id := range r.bindings[role] {
			if u := r.users[id]; u != nil && utils.IsTrue(u.IsActive) {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

type fakeRoleRepo struct {
	roles map[uint]*models.Role
}

func (r *fakeRoleRepo) ByIDs(_ context.Context, ids []uint) ([]*models.Role, error) {
	var out []*models.Role
	for _, id := range ids {
		if role, ok := r.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

func (r *fakeRoleRepo) ByCompany(_ context.Context, companyID uint) ([]*models.Role, error) {
	var out []*models.Role
	for _, role := range r.roles {
		if role.CompanyID == companyID {
			out = append(out, role)
		}
	}
	return out, nil
}

type fakeRuleRepo struct {
	mu     sync.Mutex
	rules  map[uint]*models.Rule
	nextID uint
	reads  int
	err    error
}

func newFakeRuleRepo(rules ...*models.Rule) *fakeRuleRepo {
	r := &fakeRuleRepo{rules: map[uint]*models.Rule{}, nextID: 100}
	for _, rule := range rules {
		r.rules[rule.ID] = rule
	}
	return r
}

func (r *fakeRuleRepo) ByID(_ context.Context, id uint) (*models.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if rule, ok := r.rules[id]; ok {
		cp := *rule
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeRuleRepo) ByCompany(_ context.Context, companyID uint, activeOnly bool) ([]*models.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.Rule
	for _, rule := range r.rules {
		if rule.CompanyID != companyID || (activeOnly && !rule.Active()) {
			continue
		}
		cp := *rule
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRuleRepo) Save(_ context.Context, rule *models.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.nextID++
	rule.ID = r.nextID
	cp := *rule
	r.rules[rule.ID] = &cp
	return nil
}

func (r *fakeRuleRepo) Update(_ context.Context, rule *models.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cp := *rule
	r.rules[rule.ID] = &cp
	return nil
}

func (r *fakeRuleRepo) SetActive(_ context.Context, id uint, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rules[id].IsActive = utils.ToPtr(active)
	return nil
}

type fakeAssignmentRepo struct {
	mu          sync.Mutex
	rows        map[uint]models.Assignment
	nextID      uint
	err         error
	loseCAS     bool
	openCounts  map[uint]int64
	createCalls int
}

func newFakeAssignmentRepo() *fakeAssignmentRepo {
	return &fakeAssignmentRepo{rows: map[uint]models.Assignment{}, openCounts: map[uint]int64{}}
}

func (r *fakeAssignmentRepo) put(a models.Assignment) *models.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == 0 {
		r.nextID++
		a.ID = r.nextID
	} else if a.ID > r.nextID {
		r.nextID = a.ID
	}
	if a.Version == 0 {
		a.Version = 1
	}
	r.rows[a.ID] = a
	return &a
}

func (r *fakeAssignmentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *fakeAssignmentRepo) ByID(_ context.Context, id uint) (*models.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if a, ok := r.rows[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (r *fakeAssignmentRepo) ByNaturalKey(_ context.Context, claimID, documentNumber string) (*models.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, a := range r.rows {
		if a.ClaimID == claimID && a.DocumentNumber == documentNumber {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *fakeAssignmentRepo) ByFilter(_ context.Context, filter models.AssignmentFilter, _ string, limit, offset int) ([]*models.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.Assignment
	for _, a := range r.rows {
		if filter.CompanyID != nil && a.CompanyID != *filter.CompanyID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		cp := a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []*models.Assignment{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeAssignmentRepo) Count(ctx context.Context, filter models.AssignmentFilter) (int64, error) {
	items, err := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(items)), err
}

func (r *fakeAssignmentRepo) CreateIfAbsent(_ context.Context, a *models.Assignment) (*models.Assignment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.err != nil {
		return nil, false, r.err
	}
	for _, existing := range r.rows {
		if existing.ClaimID == a.ClaimID && existing.DocumentNumber == a.DocumentNumber {
			cp := existing
			return &cp, false, nil
		}
	}
	r.nextID++
	a.ID = r.nextID
	a.UUID = uuid.New()
	a.Version = 1
	r.rows[a.ID] = *a
	return a, true, nil
}

func (r *fakeAssignmentRepo) UpdateState(_ context.Context, id uint, status models.AssignmentStatus, version int64, changes models.AssignmentChanges) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	a, ok := r.rows[id]
	if !ok || r.loseCAS || a.Status != status || a.Version != version {
		return false, nil
	}
	a.Status = changes.Status
	a.UserID = changes.UserID
	a.EndDate = changes.EndDate
	a.Version++
	r.rows[id] = a
	return true, nil
}

func (r *fakeAssignmentRepo) Delete(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeAssignmentRepo) CountOpenByUsers(_ context.Context, userIDs []uint) (map[uint]int64, error) {
	out := map[uint]int64{}
	for _, id := range userIDs {
		if n, ok := r.openCounts[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (r *fakeAuditRepo) Save(_ context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeAuditRepo) ByFilter(_ context.Context, filter models.AuditLogFilter, _, _ int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for _, e := range r.entries {
		if filter.Action != nil && e.Action != *filter.Action {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeAuditRepo) withAction(action string) []*models.AuditLog {
	out, _ := r.ByFilter(context.Background(), models.AuditLogFilter{Action: &action}, 0, 0)
	return out
}

func decodeAuditMetadata(entry *models.AuditLog) map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(entry.Metadata, &out)
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []AssignmentEvent
	err    error
}

func (s *recordingSink) NotifyAssignmentChanged(_ context.Context, event AssignmentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

type staticRuleStore struct {
	rules       map[uint][]*models.Rule
	err         error
	invalidated []uint
}

func (s *staticRuleStore) ActiveRules(_ context.Context, companyID uint) ([]*models.Rule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rules[companyID], nil
}

func (s *staticRuleStore) Invalidate(_ context.Context, companyID uint) {
	s.invalidated = append(s.invalidated, companyID)
}
