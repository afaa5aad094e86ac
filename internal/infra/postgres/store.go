// Package postgres is the gorm-backed implementation of port.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var tracer = otel.Tracer("postgres")

const (
	maxConnectAttempts = 5
	connectRetryDelay  = 2 * time.Second
)

// Store implements port.Store on PostgreSQL.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open connects to dsn, retrying while the database comes up.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		db, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err == nil {
			s := &Store{db: db, logger: logger, now: time.Now}
			if err = s.Ping(ctx); err == nil {
				return s, nil
			}
		}
		logger.Warn("postgres: connect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxConnectAttempts),
			zap.Error(err),
		)
		if attempt < maxConnectAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(connectRetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("connect to postgres: %w", err)
}

// NewStore wraps an existing connection.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================
// Companies
// ============================================================

// EnsureCompany returns the id of the company with the given name, creating it when
// missing.
func (s *Store) EnsureCompany(ctx context.Context, name string) (int64, error) {
	var c companyModel
	err := s.db.WithContext(ctx).Where(companyModel{Name: name}).FirstOrCreate(&c).Error
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// CreateUser inserts a company administrator.
func (s *Store) CreateUser(ctx context.Context, u domain.User) (*domain.User, error) {
	m := userModel{
		CompanyID:    u.CompanyID,
		Email:        strings.ToLower(strings.TrimSpace(u.Email)),
		Name:         u.Name,
		Role:         u.Role,
		PasswordHash: u.PasswordHash,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, &domain.ErrConflict{Message: "a user with email " + m.Email + " already exists"}
		}
		return nil, err
	}
	out := m.toDomain()
	return &out, nil
}

// ============================================================
// Employees
// ============================================================

func (s *Store) ListEmployees(ctx context.Context, companyID int64) ([]domain.Employee, error) {
	ctx, span := tracer.Start(ctx, "Store.ListEmployees")
	defer span.End()

	var rows []employeeModel
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Employee, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) GetEmployee(ctx context.Context, companyID, employeeID int64) (*domain.Employee, error) {
	var m employeeModel
	err := s.db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, employeeID).First(&m).Error
	if err != nil {
		return nil, notFound(err, "employee", strconv.FormatInt(employeeID, 10))
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) CreateEmployees(ctx context.Context, companyID int64, reqs []domain.CreateEmployeeRequest) ([]domain.Employee, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateEmployees")
	defer span.End()
	span.SetAttributes(attribute.Int("employees.count", len(reqs)))

	rows := make([]employeeModel, 0, len(reqs))
	for _, r := range reqs {
		rows = append(rows, employeeModel{
			CompanyID:  companyID,
			Name:       r.Name,
			Position:   r.Position,
			Email:      r.Email,
			Phone:      r.Phone,
			Department: r.Department,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, &domain.ErrConflict{Message: "an employee with one of these emails already exists"}
		}
		return nil, err
	}

	out := make([]domain.Employee, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteEmployee(ctx context.Context, companyID, employeeID int64) error {
	res := s.db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, employeeID).Delete(&employeeModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "employee", ID: strconv.FormatInt(employeeID, 10)}
	}
	return nil
}

// ============================================================
// eSIMs
// ============================================================

func (s *Store) ListEsimsByCompany(ctx context.Context, companyID int64) ([]domain.PurchasedEsim, error) {
	ctx, span := tracer.Start(ctx, "Store.ListEsimsByCompany")
	defer span.End()

	return s.findEsims(s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("id DESC"))
}

func (s *Store) ListEsimsByEmployee(ctx context.Context, companyID, employeeID int64) ([]domain.PurchasedEsim, error) {
	return s.findEsims(s.db.WithContext(ctx).
		Where("company_id = ? AND employee_id = ?", companyID, employeeID).
		Order("id DESC"))
}

func (s *Store) ListEsimsForSync(ctx context.Context, limit int) ([]domain.PurchasedEsim, error) {
	ctx, span := tracer.Start(ctx, "Store.ListEsimsForSync")
	defer span.End()

	q := s.db.WithContext(ctx).Where("status <> ?", string(domain.StatusCancelled)).Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.findEsims(q)
}

func (s *Store) findEsims(q *gorm.DB) ([]domain.PurchasedEsim, error) {
	var rows []esimModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.PurchasedEsim, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) GetEsim(ctx context.Context, companyID, esimID int64) (*domain.PurchasedEsim, error) {
	var m esimModel
	err := s.db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, esimID).First(&m).Error
	if err != nil {
		return nil, notFound(err, "esim", strconv.FormatInt(esimID, 10))
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) GetEsimByOrder(ctx context.Context, providerOrderID string) (*domain.PurchasedEsim, error) {
	var m esimModel
	err := s.db.WithContext(ctx).Where("provider_order_id = ?", providerOrderID).Order("id DESC").First(&m).Error
	if err != nil {
		return nil, notFound(err, "esim", providerOrderID)
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) CreateEsim(ctx context.Context, in domain.NewEsim) (*domain.PurchasedEsim, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateEsim")
	defer span.End()
	span.SetAttributes(attribute.String("provider.order_id", in.ProviderOrderID))

	m := esimFromNew(in, s.now().UTC())
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		s.logger.Error("postgres: insert esim failed",
			zap.String("provider_order_id", in.ProviderOrderID),
			zap.Error(err),
		)
		return nil, err
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) UpdateEsim(ctx context.Context, esimID int64, upd domain.EsimUpdate) (*domain.PurchasedEsim, error) {
	ctx, span := tracer.Start(ctx, "Store.UpdateEsim")
	defer span.End()
	span.SetAttributes(attribute.Int64("esim.id", esimID))

	var m esimModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&esimModel{}).Where("id = ?", esimID).Updates(updateColumns(upd, s.now().UTC()))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("id = ?", esimID).First(&m).Error
	})
	if err != nil {
		return nil, notFound(err, "esim", strconv.FormatInt(esimID, 10))
	}
	out := m.toDomain()
	return &out, nil
}

// ============================================================
// Plans
// ============================================================

func (s *Store) ListPlans(ctx context.Context) ([]domain.EsimPlan, error) {
	var rows []planModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.EsimPlan, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) GetPlan(ctx context.Context, planID int64) (*domain.EsimPlan, error) {
	var m planModel
	if err := s.db.WithContext(ctx).Where("id = ?", planID).First(&m).Error; err != nil {
		return nil, notFound(err, "plan", strconv.FormatInt(planID, 10))
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) UpdatePlanPrice(ctx context.Context, planID int64, price decimal.Decimal) (*domain.EsimPlan, error) {
	var m planModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&planModel{}).Where("id = ?", planID).Update("retail_price", price)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("id = ?", planID).First(&m).Error
	})
	if err != nil {
		return nil, notFound(err, "plan", strconv.FormatInt(planID, 10))
	}
	out := m.toDomain()
	return &out, nil
}

// UpsertPlans loads the catalog. Existing rows keep their retail price, which is
// owned by administrators once the plan exists.
func (s *Store) UpsertPlans(ctx context.Context, plans []domain.EsimPlan) error {
	if len(plans) == 0 {
		return nil
	}
	rows := make([]planModel, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, planFromDomain(p))
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider_plan_id", "name", "data_allowance_mb", "validity_days", "countries", "speed"}),
	}).Create(&rows).Error
}

// ============================================================
// Wallet
// ============================================================

func (s *Store) GetBalance(ctx context.Context, companyID int64) (decimal.Decimal, error) {
	var row struct {
		Balance decimal.Decimal
	}
	err := s.db.WithContext(ctx).Model(&walletTxModel{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE -amount END), 0) AS balance", string(domain.TxCredit)).
		Where("company_id = ?", companyID).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Balance, nil
}

func (s *Store) ListTransactions(ctx context.Context, companyID int64, limit int) ([]domain.WalletTransaction, error) {
	q := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []walletTxModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.WalletTransaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) AddTransaction(ctx context.Context, t domain.WalletTransaction) (*domain.WalletTransaction, error) {
	ctx, span := tracer.Start(ctx, "Store.AddTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("wallet.type", string(t.Type)),
		attribute.String("wallet.reference", t.Reference),
	)

	m := walletTxModel{
		CompanyID:   t.CompanyID,
		Type:        string(t.Type),
		Amount:      t.Amount,
		Description: t.Description,
		Reference:   t.Reference,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, &domain.ErrDuplicate{Key: t.Reference}
		}
		return nil, err
	}
	out := m.toDomain()
	return &out, nil
}

// ============================================================
// Users
// ============================================================

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var m userModel
	err := s.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)).First(&m).Error
	if err != nil {
		return nil, notFound(err, "user", email)
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID int64) (*domain.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&m).Error; err != nil {
		return nil, notFound(err, "user", strconv.FormatInt(userID, 10))
	}
	out := m.toDomain()
	return &out, nil
}

// notFound maps gorm's missing-row error to the domain error and passes others through.
func notFound(err error, resource, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return err
}
