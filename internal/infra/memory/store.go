// Package memory is an in-process implementation of port.Store. It backs local
// development (STORE_BACKEND=memory) and the service tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/shopspring/decimal"
)

// Store keeps every table in maps guarded by one mutex. Returned values are copies.
type Store struct {
	mu sync.RWMutex

	employees map[int64]domain.Employee
	esims     map[int64]domain.PurchasedEsim
	plans     map[int64]domain.EsimPlan
	txs       []domain.WalletTransaction
	refs      map[string]bool
	users     map[int64]domain.User

	nextEmployee int64
	nextEsim     int64
	nextTx       int64
	nextUser     int64

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		employees: make(map[int64]domain.Employee),
		esims:     make(map[int64]domain.PurchasedEsim),
		plans:     make(map[int64]domain.EsimPlan),
		refs:      make(map[string]bool),
		users:     make(map[int64]domain.User),
		now:       time.Now,
	}
}

// SetClock replaces the clock used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// ============================================================
// Employees
// ============================================================

func (s *Store) ListEmployees(_ context.Context, companyID int64) ([]domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Employee, 0)
	for _, e := range s.employees {
		if e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetEmployee(_ context.Context, companyID, employeeID int64) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.employees[employeeID]
	if !ok || e.CompanyID != companyID {
		return nil, &domain.ErrNotFound{Resource: "employee", ID: strconv.FormatInt(employeeID, 10)}
	}
	return &e, nil
}

func (s *Store) CreateEmployees(_ context.Context, companyID int64, reqs []domain.CreateEmployeeRequest) ([]domain.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range reqs {
		if r.Email == "" {
			continue
		}
		for _, e := range s.employees {
			if e.CompanyID == companyID && strings.EqualFold(e.Email, r.Email) {
				return nil, &domain.ErrConflict{Message: "an employee with email " + r.Email + " already exists"}
			}
		}
	}

	now := s.now().UTC()
	out := make([]domain.Employee, 0, len(reqs))
	for _, r := range reqs {
		s.nextEmployee++
		e := domain.Employee{
			ID:         s.nextEmployee,
			CompanyID:  companyID,
			Name:       r.Name,
			Position:   r.Position,
			Email:      r.Email,
			Phone:      r.Phone,
			Department: r.Department,
			CreatedAt:  now,
		}
		s.employees[e.ID] = e
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) DeleteEmployee(_ context.Context, companyID, employeeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.employees[employeeID]
	if !ok || e.CompanyID != companyID {
		return &domain.ErrNotFound{Resource: "employee", ID: strconv.FormatInt(employeeID, 10)}
	}
	delete(s.employees, employeeID)
	return nil
}

// ============================================================
// eSIMs
// ============================================================

func (s *Store) ListEsimsByCompany(_ context.Context, companyID int64) ([]domain.PurchasedEsim, error) {
	return s.filterEsims(func(e domain.PurchasedEsim) bool { return e.CompanyID == companyID }), nil
}

func (s *Store) ListEsimsByEmployee(_ context.Context, companyID, employeeID int64) ([]domain.PurchasedEsim, error) {
	return s.filterEsims(func(e domain.PurchasedEsim) bool {
		return e.CompanyID == companyID && e.EmployeeID == employeeID
	}), nil
}

func (s *Store) ListEsimsForSync(_ context.Context, limit int) ([]domain.PurchasedEsim, error) {
	out := s.filterEsims(func(e domain.PurchasedEsim) bool { return !e.Status.IsTerminal() })
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) filterEsims(keep func(domain.PurchasedEsim) bool) []domain.PurchasedEsim {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PurchasedEsim, 0)
	for _, e := range s.esims {
		if keep(e) {
			out = append(out, cloneEsim(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *Store) GetEsim(_ context.Context, companyID, esimID int64) (*domain.PurchasedEsim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.esims[esimID]
	if !ok || e.CompanyID != companyID {
		return nil, &domain.ErrNotFound{Resource: "esim", ID: strconv.FormatInt(esimID, 10)}
	}
	c := cloneEsim(e)
	return &c, nil
}

func (s *Store) GetEsimByOrder(_ context.Context, providerOrderID string) (*domain.PurchasedEsim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.esims {
		if e.ProviderOrderID == providerOrderID {
			c := cloneEsim(e)
			return &c, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "esim", ID: providerOrderID}
}

func (s *Store) CreateEsim(_ context.Context, in domain.NewEsim) (*domain.PurchasedEsim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.nextEsim++
	e := domain.PurchasedEsim{
		ID:              s.nextEsim,
		CompanyID:       in.CompanyID,
		EmployeeID:      in.EmployeeID,
		PlanID:          in.PlanID,
		ProviderOrderID: in.ProviderOrderID,
		ICCID:           in.ICCID,
		Status:          in.Status,
		PricePaid:       in.PricePaid,
		Metadata:        cloneRaw(in.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.esims[e.ID] = e
	c := cloneEsim(e)
	return &c, nil
}

func (s *Store) UpdateEsim(_ context.Context, esimID int64, upd domain.EsimUpdate) (*domain.PurchasedEsim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.esims[esimID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "esim", ID: strconv.FormatInt(esimID, 10)}
	}
	if upd.Status != nil {
		e.Status = *upd.Status
	}
	if upd.ICCID != nil {
		e.ICCID = *upd.ICCID
	}
	if upd.AutoRenewEnabled != nil {
		e.AutoRenewEnabled = *upd.AutoRenewEnabled
	}
	if upd.DataUsed != nil {
		e.DataUsed = *upd.DataUsed
	}
	if upd.Metadata != nil {
		e.Metadata = cloneRaw(upd.Metadata)
	}
	if upd.ActivatedAt != nil {
		at := *upd.ActivatedAt
		e.ActivatedAt = &at
	}
	e.UpdatedAt = s.now().UTC()
	s.esims[esimID] = e
	c := cloneEsim(e)
	return &c, nil
}

// PutEsim stores a record as-is, keeping its id. Used for seeding.
func (s *Store) PutEsim(e domain.PurchasedEsim) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == 0 {
		s.nextEsim++
		e.ID = s.nextEsim
	} else if e.ID > s.nextEsim {
		s.nextEsim = e.ID
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	s.esims[e.ID] = cloneEsim(e)
}

// ============================================================
// Plans
// ============================================================

func (s *Store) ListPlans(context.Context) ([]domain.EsimPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.EsimPlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetPlan(_ context.Context, planID int64) (*domain.EsimPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "plan", ID: strconv.FormatInt(planID, 10)}
	}
	return &p, nil
}

func (s *Store) UpdatePlanPrice(_ context.Context, planID int64, price decimal.Decimal) (*domain.EsimPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "plan", ID: strconv.FormatInt(planID, 10)}
	}
	p.RetailPrice = price
	s.plans[planID] = p
	return &p, nil
}

func (s *Store) UpsertPlans(_ context.Context, plans []domain.EsimPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range plans {
		if existing, ok := s.plans[p.ID]; ok && p.CreatedAt.IsZero() {
			p.CreatedAt = existing.CreatedAt
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = s.now().UTC()
		}
		s.plans[p.ID] = p
	}
	return nil
}

// ============================================================
// Wallet
// ============================================================

func (s *Store) GetBalance(_ context.Context, companyID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance := decimal.Zero
	for _, tx := range s.txs {
		if tx.CompanyID == companyID {
			balance = balance.Add(tx.Signed())
		}
	}
	return balance, nil
}

func (s *Store) ListTransactions(_ context.Context, companyID int64, limit int) ([]domain.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WalletTransaction, 0)
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].CompanyID != companyID {
			continue
		}
		out = append(out, s.txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AddTransaction(_ context.Context, tx domain.WalletTransaction) (*domain.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Reference != "" {
		if s.refs[tx.Reference] {
			return nil, &domain.ErrDuplicate{Key: tx.Reference}
		}
		s.refs[tx.Reference] = true
	}
	s.nextTx++
	tx.ID = s.nextTx
	tx.CreatedAt = s.now().UTC()
	s.txs = append(s.txs, tx)
	return &tx, nil
}

// ============================================================
// Users
// ============================================================

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "user", ID: email}
}

func (s *Store) GetUserByID(_ context.Context, userID int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: strconv.FormatInt(userID, 10)}
	}
	return &u, nil
}

// AddUser registers a user and returns it with its id.
func (s *Store) AddUser(u domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUser++
	u.ID = s.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	s.users[u.ID] = u
	return u
}

func cloneEsim(e domain.PurchasedEsim) domain.PurchasedEsim {
	e.Metadata = cloneRaw(e.Metadata)
	if e.ActivatedAt != nil {
		at := *e.ActivatedAt
		e.ActivatedAt = &at
	}
	return e
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
