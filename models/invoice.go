// models/invoice.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePartial InvoiceStatus = "partial"
	InvoicePaid    InvoiceStatus = "paid"
	// set by a scheduled process outside this service, never by the ledger
	InvoiceOverdue InvoiceStatus = "overdue"
)

type Invoice struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	TenantID      string `gorm:"size:36;not null;uniqueIndex:idx_invoices_tenant_number" json:"tenant_id"`
	InvoiceNumber string `gorm:"size:32;not null;uniqueIndex:idx_invoices_tenant_number" json:"invoice_number"`
	StudentID     uint   `gorm:"not null;index" json:"student_id"`
	Description   string `gorm:"size:255" json:"description"`

	TotalAmount    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"discount_amount"`
	NetAmount      decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"net_amount"`
	PaidAmount     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"paid_amount"`
	BalanceAmount  decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"balance_amount"`

	DueDate time.Time     `gorm:"not null;index" json:"due_date"`
	Status  InvoiceStatus `gorm:"size:20;not null;index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InvoiceStatusFor derives the ledger status from the amounts alone.
func InvoiceStatusFor(net, paid decimal.Decimal) InvoiceStatus {
	switch {
	case net.Sub(paid).LessThanOrEqual(decimal.Zero):
		return InvoicePaid
	case paid.GreaterThan(decimal.Zero):
		return InvoicePartial
	default:
		return InvoicePending
	}
}

func (i Invoice) IsSettled() bool {
	return i.Status == InvoicePaid || i.BalanceAmount.LessThanOrEqual(decimal.Zero)
}
