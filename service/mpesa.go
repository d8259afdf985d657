package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manodhiambo/school-management-system-sub003/models"
	"github.com/manodhiambo/school-management-system-sub003/mpesa"
	"github.com/manodhiambo/school-management-system-sub003/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const pushDescription = "School fees"

// Gateway is the subset of *mpesa.Client the service drives.
type Gateway interface {
	STKPush(ctx context.Context, in mpesa.PushRequest) (*mpesa.PushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResponse, error)
}

type InitiateInput struct {
	InvoiceID   uint            `json:"invoiceId"`
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
	InitiatedBy string          `json:"-"`
}

type CallbackOutcome string

const (
	OutcomeUnmatched   CallbackOutcome = "unmatched"
	OutcomeDuplicate   CallbackOutcome = "duplicate"
	OutcomeSucceeded   CallbackOutcome = "succeeded"
	OutcomeUnallocated CallbackOutcome = "succeeded_unallocated"
	OutcomeFailed      CallbackOutcome = "failed"
)

type CallbackResult struct {
	Outcome           CallbackOutcome
	CheckoutRequestID string
	TransactionID     uint
	Payment           *models.Payment
	Invoice           *models.Invoice
}

// TransactionView is a stored transaction with display fields.
type TransactionView struct {
	models.MpesaTransaction
	InvoiceNumber string `json:"invoice_number"`
	StudentName   string `json:"student_name"`
	AdmissionNo   string `json:"admission_no"`
}

type Mpesa struct {
	db       *gorm.DB
	gw       Gateway
	ledger   *Ledger
	payments *Payments
	log      *zap.Logger
	now      func() time.Time
}

func NewMpesa(db *gorm.DB, gw Gateway, ledger *Ledger, payments *Payments, log *zap.Logger) *Mpesa {
	return &Mpesa{db: db, gw: gw, ledger: ledger, payments: payments, log: log, now: time.Now}
}

// Initiate creates a pending transaction and sends the STK push. If the
// gateway call fails the row stays pending for a later query or callback.
func (s *Mpesa) Initiate(ctx context.Context, tenantID string, in InitiateInput) (*models.MpesaTransaction, error) {
	phone, err := utils.NormalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	// the gateway only accepts whole shillings
	amount := in.Amount.Round(0)
	if !amount.IsPositive() {
		return nil, validationf("amount must be at least 1")
	}
	if in.InvoiceID == 0 {
		return nil, validationf("invoiceId is required")
	}

	db := s.db.WithContext(ctx)

	var inv models.Invoice
	if err := db.Where("id = ? AND tenant_id = ?", in.InvoiceID, tenantID).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("invoice %d", in.InvoiceID)
		}
		return nil, err
	}
	if err := checkFits(&inv, amount); err != nil {
		return nil, err
	}
	ref, err := accountReference(inv.InvoiceNumber)
	if err != nil {
		return nil, err
	}

	txn := models.MpesaTransaction{
		TenantID:    tenantID,
		InvoiceID:   inv.ID,
		StudentID:   inv.StudentID,
		PhoneNumber: phone,
		Amount:      amount,
		Status:      models.MpesaPending,
		InitiatedBy: in.InitiatedBy,
	}
	if err := db.Create(&txn).Error; err != nil {
		return nil, err
	}

	resp, err := s.gw.STKPush(ctx, mpesa.PushRequest{
		PhoneNumber:      phone,
		Amount:           amount.IntPart(),
		AccountReference: ref,
		Description:      pushDescription,
	})
	if err != nil {
		gerr := gatewayError(err)
		s.log.Error("stk push failed, transaction left pending",
			zap.String("tenant", tenantID),
			zap.Uint("transaction_id", txn.ID),
			zap.Uint("invoice_id", inv.ID),
			zap.Error(err),
		)
		note := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.MpesaTransaction{}).
			Where("id = ? AND status = ?", txn.ID, models.MpesaPending).
			Update("result_desc", clip(err.Error(), 255))
		if note.Error != nil {
			s.log.Warn("could not record push failure", zap.Uint("transaction_id", txn.ID), zap.Error(note.Error))
		}
		return nil, gerr
	}

	txn.MerchantRequestID = &resp.MerchantRequestID
	txn.CheckoutRequestID = &resp.CheckoutRequestID
	txn.ResultDesc = clip(resp.CustomerMessage, 255)
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.MpesaTransaction{}).
		Where("id = ?", txn.ID).
		Updates(map[string]any{
			"merchant_request_id": resp.MerchantRequestID,
			"checkout_request_id": resp.CheckoutRequestID,
			"result_desc":         txn.ResultDesc,
		}).Error; err != nil {
		// the push is already on the payer's phone; the callback cannot match without this row
		s.log.Error("store checkout request id failed",
			zap.Uint("transaction_id", txn.ID),
			zap.String("checkout_request_id", resp.CheckoutRequestID),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("stk push sent",
		zap.String("tenant", tenantID),
		zap.Uint("transaction_id", txn.ID),
		zap.String("checkout_request_id", resp.CheckoutRequestID),
		zap.String("amount", amount.String()),
	)
	return &txn, nil
}

// QueryStatus asks the gateway for the live status. Local state is untouched:
// only the callback path writes transaction state.
func (s *Mpesa) QueryStatus(ctx context.Context, tenantID, checkoutRequestID string) (*mpesa.QueryResponse, error) {
	checkoutRequestID = strings.TrimSpace(checkoutRequestID)
	if checkoutRequestID == "" {
		return nil, validationf("checkout request id is required")
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.MpesaTransaction{}).
		Where("tenant_id = ? AND checkout_request_id = ?", tenantID, checkoutRequestID).
		Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, notFoundf("transaction %s", checkoutRequestID)
	}

	resp, err := s.gw.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		return nil, gatewayError(err)
	}
	return resp, nil
}

// HandleCallback reconciles one gateway notification. Unknown and repeated
// callbacks are not errors.
func (s *Mpesa) HandleCallback(ctx context.Context, raw []byte) (*CallbackResult, error) {
	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReconciliation, err)
	}

	res := &CallbackResult{CheckoutRequestID: cb.CheckoutRequestID}
	now := s.now().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.MpesaTransaction
		if err := tx.Clauses(clauseUpdateLock()).
			Where("checkout_request_id = ?", cb.CheckoutRequestID).
			Limit(1).Find(&txn).Error; err != nil {
			return err
		}
		if txn.ID == 0 {
			res.Outcome = OutcomeUnmatched
			return nil
		}
		res.TransactionID = txn.ID
		if txn.Status != models.MpesaPending {
			res.Outcome = OutcomeDuplicate
			return nil
		}

		if !cb.Succeeded() {
			ok, err := finish(tx, txn.ID, map[string]any{
				"status":           models.MpesaFailed,
				"result_code":      *cb.ResultCode,
				"result_desc":      clip(cb.ResultDesc, 255),
				"callback_payload": datatypes.JSON(raw),
				"completed_at":     now,
			})
			if err != nil {
				return err
			}
			res.Outcome = OutcomeFailed
			if !ok {
				res.Outcome = OutcomeDuplicate
			}
			return nil
		}

		meta := cb.CallbackMetadata
		receipt := meta.String(mpesa.ItemReceiptNumber)
		amount, hasAmount := meta.Decimal(mpesa.ItemAmount)
		if receipt == "" || !hasAmount || !amount.IsPositive() {
			return fmt.Errorf("%w: success callback %s without receipt or amount", ErrReconciliation, cb.CheckoutRequestID)
		}
		if !inCents(amount) {
			return fmt.Errorf("%w: success callback %s amount %s has more than 2 decimal places",
				ErrReconciliation, cb.CheckoutRequestID, amount)
		}
		paidAt := now
		if t, ok := meta.Time(mpesa.ItemTransactionDate); ok {
			paidAt = t.UTC()
		}

		ok, err := finish(tx, txn.ID, map[string]any{
			"status":           models.MpesaSuccess,
			"result_code":      *cb.ResultCode,
			"result_desc":      clip(cb.ResultDesc, 255),
			"receipt_number":   receipt,
			"callback_payload": datatypes.JSON(raw),
			"completed_at":     now,
		})
		if err != nil {
			return err
		}
		if !ok {
			res.Outcome = OutcomeDuplicate
			return nil
		}

		inv, err := lockInvoice(tx, txn.TenantID, txn.InvoiceID)
		if err != nil {
			return err
		}

		pay := models.Payment{
			TenantID:      txn.TenantID,
			StudentID:     txn.StudentID,
			Amount:        amount,
			PaymentMethod: models.PaymentMpesa,
			TransactionID: receipt,
			Status:        models.PaymentSuccess,
			Remarks:       clip("M-Pesa STK push from "+meta.String(mpesa.ItemPhoneNumber), 255),
			RecordedBy:    txn.InitiatedBy,
			PaymentDate:   paidAt,
		}

		res.Outcome = OutcomeSucceeded
		if checkFits(inv, amount) == nil {
			pay.InvoiceID = &inv.ID
		} else {
			// money has arrived either way; keep it on the student's account
			res.Outcome = OutcomeUnallocated
			s.log.Warn("mpesa payment does not fit invoice balance, recorded unallocated",
				zap.String("checkout_request_id", cb.CheckoutRequestID),
				zap.String("invoice", inv.InvoiceNumber),
				zap.String("amount", amount.String()),
				zap.String("balance", inv.BalanceAmount.String()),
			)
		}

		if err := s.payments.insertTx(tx, &pay); err != nil {
			return err
		}
		res.Payment = &pay

		if pay.InvoiceID != nil {
			updated, err := s.ledger.applyTx(tx, txn.TenantID, inv.ID, amount)
			if err != nil {
				return err
			}
			res.Invoice = updated
		}

		return tx.Model(&models.MpesaTransaction{}).
			Where("id = ?", txn.ID).
			Update("payment_id", pay.ID).Error
	})
	if err != nil {
		return res, err
	}

	if res.Payment != nil {
		s.payments.notifyAsync(ctx, *res.Payment, res.Invoice)
	}
	return res, nil
}

// finish applies the single allowed pending -> terminal transition.
// false means another callback got there first.
func finish(tx *gorm.DB, id uint, fields map[string]any) (bool, error) {
	r := tx.Model(&models.MpesaTransaction{}).
		Where("id = ? AND status = ?", id, models.MpesaPending).
		Updates(fields)
	if r.Error != nil {
		return false, r.Error
	}
	return r.RowsAffected == 1, nil
}

func (s *Mpesa) GetTransaction(ctx context.Context, tenantID string, id uint) (*TransactionView, error) {
	var rows []TransactionView
	if err := s.viewQuery(ctx, tenantID).
		Where("t.id = ?", id).
		Limit(1).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFoundf("transaction %d", id)
	}
	return &rows[0], nil
}

func (s *Mpesa) ListStudentTransactions(ctx context.Context, tenantID string, studentID uint) ([]TransactionView, error) {
	if _, err := findStudent(s.db.WithContext(ctx), tenantID, studentID); err != nil {
		return nil, err
	}
	rows := []TransactionView{}
	if err := s.viewQuery(ctx, tenantID).
		Where("t.student_id = ?", studentID).
		Order("t.created_at DESC, t.id DESC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Mpesa) viewQuery(ctx context.Context, tenantID string) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("mpesa_transactions AS t").
		Select(`
			t.*,
			COALESCE(i.invoice_number, '') AS invoice_number,
			COALESCE(st.first_name || ' ' || st.last_name, '') AS student_name,
			COALESCE(st.admission_no, '') AS admission_no
		`).
		Joins("LEFT JOIN invoices i ON i.id = t.invoice_id AND i.tenant_id = t.tenant_id").
		Joins("LEFT JOIN students st ON st.id = t.student_id AND st.tenant_id = t.tenant_id").
		Where("t.tenant_id = ?", tenantID)
}

// accountReference turns INV-202610-000042 into 202610000042. Numbers that
// would not fit the gateway's 12 character limit are refused rather than cut,
// so two invoices never share a reference.
func accountReference(invoiceNumber string) (string, error) {
	ref := strings.TrimPrefix(invoiceNumber, utils.InvoicePrefix)
	ref = strings.ReplaceAll(ref, "-", "")
	if len(ref) > mpesa.AccountReferenceMax {
		return "", validationf("invoice %s cannot be used as an M-Pesa account reference", invoiceNumber)
	}
	return ref, nil
}

// clip keeps at most n runes of s.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
