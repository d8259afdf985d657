// models/payment.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentBank   PaymentMethod = "bank"
	PaymentMpesa  PaymentMethod = "mpesa"
	PaymentCheque PaymentMethod = "cheque"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentBank, PaymentMpesa, PaymentCheque:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment rows are written once and never updated.
type Payment struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	TenantID  string `gorm:"size:36;not null;uniqueIndex:idx_payments_tenant_receipt" json:"tenant_id"`
	InvoiceID *uint  `gorm:"index" json:"invoice_id"` // nil = unallocated
	StudentID uint   `gorm:"not null;index" json:"student_id"`

	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	PaymentMethod PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	TransactionID string          `gorm:"size:64;index" json:"transaction_id,omitempty"`
	ReceiptNumber string          `gorm:"size:32;not null;uniqueIndex:idx_payments_tenant_receipt" json:"receipt_number"`
	Status        PaymentStatus   `gorm:"size:20;not null" json:"status"`
	Remarks       string          `gorm:"size:255" json:"remarks,omitempty"`
	RecordedBy    string          `gorm:"size:64" json:"recorded_by,omitempty"`

	PaymentDate time.Time `gorm:"not null;index" json:"payment_date"`
	CreatedAt   time.Time `json:"created_at"`
}
