package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/manodhiambo/school-management-system-sub003/models"
	"github.com/manodhiambo/school-management-system-sub003/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InvoiceInput struct {
	StudentID      uint            `json:"student_id"`
	Description    string          `json:"description"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DueDate        time.Time       `json:"due_date"`
}

type BulkInvoiceInput struct {
	StudentIDs     []uint          `json:"student_ids"`
	Description    string          `json:"description"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DueDate        time.Time       `json:"due_date"`
}

type Invoices struct {
	db  *gorm.DB
	seq Sequences
	now func() time.Time
}

func NewInvoices(db *gorm.DB) *Invoices {
	return &Invoices{db: db, now: time.Now}
}

func validateAmounts(total, discount decimal.Decimal, due time.Time) error {
	if !total.IsPositive() {
		return validationf("total_amount must be positive")
	}
	if discount.IsNegative() || discount.GreaterThan(total) {
		return validationf("discount_amount must be between 0 and total_amount")
	}
	if !inCents(total) || !inCents(discount) {
		return validationf("amounts must not have more than 2 decimal places")
	}
	if due.IsZero() {
		return validationf("due_date is required")
	}
	return nil
}

func (s *Invoices) CreateInvoice(ctx context.Context, tenantID string, in InvoiceInput) (*models.Invoice, error) {
	if in.StudentID == 0 {
		return nil, validationf("student_id is required")
	}
	if err := validateAmounts(in.TotalAmount, in.DiscountAmount, in.DueDate); err != nil {
		return nil, err
	}

	var inv *models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findStudent(tx, tenantID, in.StudentID); err != nil {
			return err
		}
		var err error
		inv, err = s.createTx(tx, tenantID, in.StudentID, in.Description, in.TotalAmount, in.DiscountAmount, in.DueDate)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GenerateInvoices bills every listed student in one transaction; a single
// unknown student aborts the whole batch.
func (s *Invoices) GenerateInvoices(ctx context.Context, tenantID string, in BulkInvoiceInput) ([]models.Invoice, error) {
	if len(in.StudentIDs) == 0 {
		return nil, validationf("student_ids is required")
	}
	if err := validateAmounts(in.TotalAmount, in.DiscountAmount, in.DueDate); err != nil {
		return nil, err
	}

	seen := make(map[uint]bool, len(in.StudentIDs))
	ids := make([]uint, 0, len(in.StudentIDs))
	for _, id := range in.StudentIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, validationf("student_ids is required")
	}

	out := make([]models.Invoice, 0, len(ids))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&models.Student{}).
			Where("tenant_id = ? AND id IN ?", tenantID, ids).
			Count(&found).Error; err != nil {
			return err
		}
		if found != int64(len(ids)) {
			return notFoundf("%d of %d students not found", len(ids)-int(found), len(ids))
		}
		for _, id := range ids {
			inv, err := s.createTx(tx, tenantID, id, in.Description, in.TotalAmount, in.DiscountAmount, in.DueDate)
			if err != nil {
				return err
			}
			out = append(out, *inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Invoices) createTx(tx *gorm.DB, tenantID string, studentID uint, desc string, total, discount decimal.Decimal, due time.Time) (*models.Invoice, error) {
	now := s.now()
	seq, err := s.seq.Next(tx, tenantID, utils.PeriodScope(utils.InvoicePrefix, now))
	if err != nil {
		return nil, err
	}
	net := total.Sub(discount)
	inv := models.Invoice{
		TenantID:       tenantID,
		InvoiceNumber:  utils.GenInvoiceNo(seq, now),
		StudentID:      studentID,
		Description:    strings.TrimSpace(desc),
		TotalAmount:    total,
		DiscountAmount: discount,
		NetAmount:      net,
		PaidAmount:     decimal.Zero,
		BalanceAmount:  net,
		DueDate:        due.UTC(),
		Status:         models.InvoiceStatusFor(net, decimal.Zero),
	}
	if err := tx.Create(&inv).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, conflictf("invoice number %s already exists", inv.InvoiceNumber)
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Invoices) GetInvoice(ctx context.Context, tenantID string, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("invoice %d", id)
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Invoices) CreateStudent(ctx context.Context, st *models.Student) error {
	if st.TenantID == "" || st.AdmissionNo == "" || st.FirstName == "" {
		return validationf("tenant, admission number and first name are required")
	}
	if err := s.db.WithContext(ctx).Create(st).Error; err != nil {
		if isUniqueViolation(err) {
			return conflictf("admission number %s already exists", st.AdmissionNo)
		}
		return err
	}
	return nil
}
