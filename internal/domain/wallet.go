package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a wallet movement.
type TransactionType string

const (
	TxCredit TransactionType = "credit"
	TxDebit  TransactionType = "debit"
)

// WalletTransaction is one append-only wallet movement. Amount is always positive;
// Type carries the sign.
type WalletTransaction struct {
	ID          int64           `json:"id"`
	CompanyID   int64           `json:"companyId"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Signed returns the amount with the sign implied by its type.
func (t WalletTransaction) Signed() decimal.Decimal {
	if t.Type == TxDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Wallet is the response for GET /api/wallet.
type Wallet struct {
	CompanyID    int64               `json:"companyId"`
	Balance      decimal.Decimal     `json:"balance"`
	Transactions []WalletTransaction `json:"transactions"`
}

// TopUpRequest is the body for POST /api/wallet/top-up.
type TopUpRequest struct {
	AmountCents int64 `json:"amountCents" validate:"required,gt=0,lte=10000000"`
}

// TopUpSession is a pending checkout created at the payment processor.
type TopUpSession struct {
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// PaymentConfirmation is a processor-confirmed payment extracted from its webhook.
type PaymentConfirmation struct {
	SessionID string
	CompanyID int64
	Amount    decimal.Decimal
	Paid      bool
}

// Receipt is the archived record of a purchase or a cancellation credit note.
type Receipt struct {
	Kind       string          `json:"kind"` // receipt, credit_note
	CompanyID  int64           `json:"companyId"`
	EmployeeID int64           `json:"employeeId"`
	EsimID     int64           `json:"esimId"`
	PlanID     int64           `json:"planId"`
	PlanName   string          `json:"planName"`
	Amount     decimal.Decimal `json:"amount"`
	OrderID    string          `json:"orderId,omitempty"`
	IssuedAt   time.Time       `json:"issuedAt"`
}
