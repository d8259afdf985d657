// models/mpesa_transaction.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type MpesaStatus string

const (
	MpesaPending MpesaStatus = "pending"
	MpesaSuccess MpesaStatus = "success"
	MpesaFailed  MpesaStatus = "failed"
)

func (s MpesaStatus) Terminal() bool {
	return s == MpesaSuccess || s == MpesaFailed
}

type MpesaTransaction struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	TenantID  string `gorm:"size:36;not null;index" json:"tenant_id"`
	InvoiceID uint   `gorm:"not null;index" json:"invoice_id"`
	StudentID uint   `gorm:"not null;index" json:"student_id"`

	PhoneNumber string          `gorm:"size:12;not null" json:"phone_number"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`

	// nil until the gateway accepts the push request
	MerchantRequestID *string `gorm:"size:64;uniqueIndex" json:"merchant_request_id"`
	CheckoutRequestID *string `gorm:"size:64;uniqueIndex" json:"checkout_request_id"`

	Status        MpesaStatus    `gorm:"size:20;not null;index" json:"status"`
	ResultCode    *int           `json:"result_code"`
	ResultDesc    string         `gorm:"size:255" json:"result_desc,omitempty"`
	ReceiptNumber string         `gorm:"size:32" json:"receipt_number,omitempty"`
	PaymentID     *uint          `json:"payment_id,omitempty"`
	Payload       datatypes.JSON `gorm:"column:callback_payload" json:"callback_payload,omitempty"`
	InitiatedBy   string         `gorm:"size:64" json:"initiated_by"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
