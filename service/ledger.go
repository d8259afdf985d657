package service

import (
	"context"

	"github.com/manodhiambo/school-management-system-sub003/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger owns paid_amount, balance_amount and status on invoices.
// Nothing else writes those columns after an invoice is created.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger { return &Ledger{db: db} }

func (l *Ledger) ApplyPayment(ctx context.Context, tenantID string, invoiceID uint, amount decimal.Decimal) (*models.Invoice, error) {
	var inv *models.Invoice
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = l.applyTx(tx, tenantID, invoiceID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (l *Ledger) applyTx(tx *gorm.DB, tenantID string, invoiceID uint, amount decimal.Decimal) (*models.Invoice, error) {
	if !amount.IsPositive() {
		return nil, validationf("amount must be positive")
	}
	if !inCents(amount) {
		return nil, validationf("amount %s has more than 2 decimal places", amount)
	}

	inv, err := lockInvoice(tx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := checkFits(inv, amount); err != nil {
		return nil, err
	}

	// single statement; the balance guard makes a lost update impossible
	// even where the row lock is unavailable
	res := tx.Model(&models.Invoice{}).
		Where("id = ? AND tenant_id = ? AND balance_amount >= ?", inv.ID, tenantID, amount).
		Updates(map[string]any{
			"paid_amount":    gorm.Expr("paid_amount + ?", amount),
			"balance_amount": gorm.Expr("net_amount - (paid_amount + ?)", amount),
			"status": gorm.Expr("CASE WHEN net_amount - (paid_amount + ?) <= 0 THEN ? ELSE ? END",
				amount, models.InvoicePaid, models.InvoicePartial),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, conflictf("invoice %s balance changed, payment of %s no longer fits", inv.InvoiceNumber, amount)
	}

	var updated models.Invoice
	if err := tx.Where("id = ? AND tenant_id = ?", inv.ID, tenantID).First(&updated).Error; err != nil {
		return nil, err
	}
	return &updated, nil
}

// inCents reports whether d fits the numeric(14,2) money columns exactly.
func inCents(d decimal.Decimal) bool { return d.Equal(d.Round(2)) }

func checkFits(inv *models.Invoice, amount decimal.Decimal) error {
	if inv.IsSettled() {
		return conflictf("invoice %s is already fully paid", inv.InvoiceNumber)
	}
	if amount.GreaterThan(inv.BalanceAmount) {
		return conflictf("amount %s exceeds invoice %s balance %s",
			amount.StringFixed(2), inv.InvoiceNumber, inv.BalanceAmount.StringFixed(2))
	}
	return nil
}
