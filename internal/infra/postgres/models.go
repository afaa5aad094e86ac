package postgres

import (
	"encoding/json"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ============================================================
// Table models. Columns mirror migrations/000001_init.up.sql.
// ============================================================

type companyModel struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"type:varchar(200);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (companyModel) TableName() string { return "companies" }

type userModel struct {
	ID           int64     `gorm:"primaryKey"`
	CompanyID    int64     `gorm:"not null;index"`
	Email        string    `gorm:"type:varchar(254);not null"`
	Name         string    `gorm:"type:varchar(200);not null;default:''"`
	Role         string    `gorm:"type:varchar(20);not null;default:'viewer'"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (userModel) TableName() string { return "users" }

func (m userModel) toDomain() domain.User {
	return domain.User{
		ID:           m.ID,
		CompanyID:    m.CompanyID,
		Email:        m.Email,
		Name:         m.Name,
		Role:         m.Role,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

type employeeModel struct {
	ID         int64     `gorm:"primaryKey"`
	CompanyID  int64     `gorm:"not null;index"`
	Name       string    `gorm:"type:varchar(200);not null"`
	Position   string    `gorm:"type:varchar(200);not null;default:''"`
	Email      string    `gorm:"type:varchar(254);not null;default:''"`
	Phone      string    `gorm:"type:varchar(32);not null;default:''"`
	Department string    `gorm:"type:varchar(200);not null;default:''"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (employeeModel) TableName() string { return "employees" }

func (m employeeModel) toDomain() domain.Employee {
	return domain.Employee{
		ID:         m.ID,
		CompanyID:  m.CompanyID,
		Name:       m.Name,
		Position:   m.Position,
		Email:      m.Email,
		Phone:      m.Phone,
		Department: m.Department,
		CreatedAt:  m.CreatedAt,
	}
}

type planModel struct {
	ID              int64           `gorm:"primaryKey;autoIncrement:false"`
	ProviderPlanID  string          `gorm:"type:varchar(100);not null;uniqueIndex"`
	Name            string          `gorm:"type:varchar(200);not null"`
	DataAllowanceMB int64           `gorm:"column:data_allowance_mb;not null"`
	ValidityDays    int             `gorm:"not null"`
	RetailPrice     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Countries       datatypes.JSON  `gorm:"type:jsonb;not null;default:'[]'"`
	Speed           string          `gorm:"type:varchar(20);not null;default:''"`
	CreatedAt       time.Time       `gorm:"autoCreateTime"`
}

func (planModel) TableName() string { return "esim_plans" }

func (m planModel) toDomain() domain.EsimPlan {
	var countries []string
	if len(m.Countries) > 0 {
		_ = json.Unmarshal(m.Countries, &countries)
	}
	if countries == nil {
		countries = []string{}
	}
	return domain.EsimPlan{
		ID:              m.ID,
		ProviderPlanID:  m.ProviderPlanID,
		Name:            m.Name,
		DataAllowanceMB: m.DataAllowanceMB,
		ValidityDays:    m.ValidityDays,
		RetailPrice:     m.RetailPrice,
		Countries:       countries,
		Speed:           m.Speed,
		CreatedAt:       m.CreatedAt,
	}
}

func planFromDomain(p domain.EsimPlan) planModel {
	countries := p.Countries
	if countries == nil {
		countries = []string{}
	}
	raw, _ := json.Marshal(countries)
	return planModel{
		ID:              p.ID,
		ProviderPlanID:  p.ProviderPlanID,
		Name:            p.Name,
		DataAllowanceMB: p.DataAllowanceMB,
		ValidityDays:    p.ValidityDays,
		RetailPrice:     p.RetailPrice,
		Countries:       datatypes.JSON(raw),
		Speed:           p.Speed,
		CreatedAt:       p.CreatedAt,
	}
}

type esimModel struct {
	ID               int64           `gorm:"primaryKey"`
	CompanyID        int64           `gorm:"not null;index:ix_purchased_esims_company_employee,priority:1"`
	EmployeeID       int64           `gorm:"not null;index:ix_purchased_esims_company_employee,priority:2"`
	PlanID           int64           `gorm:"not null"`
	ProviderOrderID  string          `gorm:"type:varchar(100);not null;default:'';index"`
	ICCID            string          `gorm:"column:iccid;type:varchar(32);not null;default:''"`
	Status           string          `gorm:"type:varchar(32);not null"`
	AutoRenewEnabled bool            `gorm:"not null;default:false"`
	DataUsed         int64           `gorm:"not null;default:0"`
	PricePaid        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	Metadata         datatypes.JSON  `gorm:"type:jsonb"`
	ActivatedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (esimModel) TableName() string { return "purchased_esims" }

func (m esimModel) toDomain() domain.PurchasedEsim {
	var meta json.RawMessage
	if len(m.Metadata) > 0 {
		meta = append(json.RawMessage(nil), m.Metadata...)
	}
	return domain.PurchasedEsim{
		ID:               m.ID,
		CompanyID:        m.CompanyID,
		EmployeeID:       m.EmployeeID,
		PlanID:           m.PlanID,
		ProviderOrderID:  m.ProviderOrderID,
		ICCID:            m.ICCID,
		Status:           domain.EsimStatus(m.Status),
		AutoRenewEnabled: m.AutoRenewEnabled,
		DataUsed:         m.DataUsed,
		PricePaid:        m.PricePaid,
		Metadata:         meta,
		ActivatedAt:      m.ActivatedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func esimFromNew(in domain.NewEsim, now time.Time) esimModel {
	var meta datatypes.JSON
	if len(in.Metadata) > 0 {
		meta = datatypes.JSON(in.Metadata)
	}
	return esimModel{
		CompanyID:       in.CompanyID,
		EmployeeID:      in.EmployeeID,
		PlanID:          in.PlanID,
		ProviderOrderID: in.ProviderOrderID,
		ICCID:           in.ICCID,
		Status:          string(in.Status),
		PricePaid:       in.PricePaid,
		Metadata:        meta,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// updateColumns turns a partial update into the column map gorm writes. Nil fields
// are left out.
func updateColumns(upd domain.EsimUpdate, now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now}
	if upd.Status != nil {
		cols["status"] = string(*upd.Status)
	}
	if upd.ICCID != nil {
		cols["iccid"] = *upd.ICCID
	}
	if upd.AutoRenewEnabled != nil {
		cols["auto_renew_enabled"] = *upd.AutoRenewEnabled
	}
	if upd.DataUsed != nil {
		cols["data_used"] = *upd.DataUsed
	}
	if upd.Metadata != nil {
		cols["metadata"] = datatypes.JSON(upd.Metadata)
	}
	if upd.ActivatedAt != nil {
		cols["activated_at"] = *upd.ActivatedAt
	}
	return cols
}

type walletTxModel struct {
	ID          int64           `gorm:"primaryKey"`
	CompanyID   int64           `gorm:"not null;index"`
	Type        string          `gorm:"type:varchar(10);not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Description string          `gorm:"not null;default:''"`
	Reference   string          `gorm:"type:varchar(200);not null;default:''"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
}

func (walletTxModel) TableName() string { return "wallet_transactions" }

func (m walletTxModel) toDomain() domain.WalletTransaction {
	return domain.WalletTransaction{
		ID:          m.ID,
		CompanyID:   m.CompanyID,
		Type:        domain.TransactionType(m.Type),
		Amount:      m.Amount,
		Description: m.Description,
		Reference:   m.Reference,
		CreatedAt:   m.CreatedAt,
	}
}
