package service

import (
	"context"
	"strings"
	"time"

	"github.com/manodhiambo/school-management-system-sub003/models"
	"github.com/manodhiambo/school-management-system-sub003/notify"
	"github.com/manodhiambo/school-management-system-sub003/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const notifyTimeout = 30 * time.Second

type PaymentInput struct {
	InvoiceID      *uint                `json:"invoice_id"`
	StudentID      *uint                `json:"student_id"`
	Amount         decimal.Decimal      `json:"amount"`
	Method         models.PaymentMethod `json:"payment_method"`
	TransactionRef string               `json:"transaction_ref"`
	Remarks        string               `json:"remarks"`
	PaymentDate    *time.Time           `json:"payment_date"`
	RecordedBy     string               `json:"-"`
}

func (in PaymentInput) validate() error {
	if !in.Amount.IsPositive() {
		return validationf("amount must be a positive number")
	}
	if !inCents(in.Amount) {
		return validationf("amount %s has more than 2 decimal places", in.Amount)
	}
	if in.InvoiceID == nil && in.StudentID == nil {
		return validationf("invoice_id or student_id is required")
	}
	if !in.Method.Valid() {
		return validationf("unsupported payment_method %q", in.Method)
	}
	return nil
}

// Payments is the only writer of payment rows.
type Payments struct {
	db       *gorm.DB
	ledger   *Ledger
	seq      Sequences
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewPayments accepts a nil notifier when receipts are not delivered.
func NewPayments(db *gorm.DB, ledger *Ledger, notifier notify.Notifier, log *zap.Logger) *Payments {
	return &Payments{db: db, ledger: ledger, notifier: notifier, log: log, now: time.Now}
}

func (p *Payments) RecordPayment(ctx context.Context, tenantID string, in PaymentInput) (*models.Payment, *models.Invoice, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	paidAt := p.now().UTC()
	if in.PaymentDate != nil && !in.PaymentDate.IsZero() {
		paidAt = in.PaymentDate.UTC()
	}

	var (
		pay *models.Payment
		inv *models.Invoice
	)
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.Payment{
			TenantID:      tenantID,
			Amount:        in.Amount,
			PaymentMethod: in.Method,
			TransactionID: strings.TrimSpace(in.TransactionRef),
			Status:        models.PaymentSuccess,
			Remarks:       strings.TrimSpace(in.Remarks),
			RecordedBy:    in.RecordedBy,
			PaymentDate:   paidAt,
		}

		if in.InvoiceID == nil {
			// unallocated: credited to the student, matched to an invoice later
			if _, err := findStudent(tx, tenantID, *in.StudentID); err != nil {
				return err
			}
			row.StudentID = *in.StudentID
			if err := p.insertTx(tx, &row); err != nil {
				return err
			}
			pay = &row
			return nil
		}

		locked, err := lockInvoice(tx, tenantID, *in.InvoiceID)
		if err != nil {
			return err
		}
		if in.StudentID != nil && *in.StudentID != locked.StudentID {
			return validationf("invoice %s does not belong to student %d", locked.InvoiceNumber, *in.StudentID)
		}
		if err := checkFits(locked, in.Amount); err != nil {
			return err
		}

		row.InvoiceID = &locked.ID
		row.StudentID = locked.StudentID
		if err := p.insertTx(tx, &row); err != nil {
			return err
		}
		pay = &row

		inv, err = p.ledger.applyTx(tx, tenantID, locked.ID, in.Amount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	p.log.Info("payment recorded",
		zap.String("tenant", tenantID),
		zap.String("receipt", pay.ReceiptNumber),
		zap.String("method", string(pay.PaymentMethod)),
		zap.String("amount", pay.Amount.String()),
		zap.Uintp("invoice_id", pay.InvoiceID),
	)
	p.notifyAsync(ctx, *pay, inv)
	return pay, inv, nil
}

// insertTx allocates the receipt number and inserts the row.
func (p *Payments) insertTx(tx *gorm.DB, pay *models.Payment) error {
	seq, err := p.seq.Next(tx, pay.TenantID, utils.PeriodScope(utils.ReceiptPrefix, pay.PaymentDate))
	if err != nil {
		return err
	}
	pay.ReceiptNumber = utils.GenReceiptNo(seq, pay.PaymentDate)
	if err := tx.Create(pay).Error; err != nil {
		if isUniqueViolation(err) {
			return conflictf("receipt number %s already exists", pay.ReceiptNumber)
		}
		return err
	}
	return nil
}

func (p *Payments) ListInvoicePayments(ctx context.Context, tenantID string, invoiceID uint) ([]models.Payment, error) {
	db := p.db.WithContext(ctx)

	var exists int64
	if err := db.Model(&models.Invoice{}).
		Where("id = ? AND tenant_id = ?", invoiceID, tenantID).
		Count(&exists).Error; err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, notFoundf("invoice %d", invoiceID)
	}

	var rows []models.Payment
	if err := db.Where("invoice_id = ? AND tenant_id = ?", invoiceID, tenantID).
		Order("payment_date ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// notifyAsync runs after commit; a failed delivery never affects the payment.
func (p *Payments) notifyAsync(ctx context.Context, pay models.Payment, inv *models.Invoice) {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	go func() {
		defer cancel()

		var st models.Student
		if err := p.db.WithContext(ctx).
			Where("id = ? AND tenant_id = ?", pay.StudentID, pay.TenantID).
			First(&st).Error; err != nil {
			p.log.Warn("receipt notification skipped", zap.String("receipt", pay.ReceiptNumber), zap.Error(err))
			return
		}

		r := notify.Receipt{
			TenantID:      pay.TenantID,
			ReceiptNumber: pay.ReceiptNumber,
			StudentName:   st.FullName(),
			GuardianName:  st.GuardianName,
			GuardianEmail: st.GuardianEmail,
			Amount:        pay.Amount,
			Method:        string(pay.PaymentMethod),
			Reference:     pay.TransactionID,
			PaidAt:        pay.PaymentDate,
		}
		if inv != nil {
			r.InvoiceNumber = inv.InvoiceNumber
			bal := inv.BalanceAmount
			r.Balance = &bal
		}
		if err := p.notifier.PaymentReceived(ctx, r); err != nil {
			p.log.Warn("receipt notification failed", zap.String("receipt", pay.ReceiptNumber), zap.Error(err))
		}
	}()
}
