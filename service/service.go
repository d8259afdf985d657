package service

import (
	"context"
	"strings"
	"time"

	"github.com/manodhiambo/school-management-system-sub003/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ===== DTOs =====

type StatusSummaryRow struct {
	Status        string          `json:"status"`
	Invoices      int64           `json:"invoices"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BalanceAmount decimal.Decimal `json:"balance_amount"`
}

type MethodSummaryRow struct {
	Method   string          `json:"method"`
	Payments int64           `json:"payments"`
	Amount   decimal.Decimal `json:"amount"`
}

type CollectionSummary struct {
	From             *time.Time         `json:"from,omitempty"`
	To               *time.Time         `json:"to,omitempty"`
	ByStatus         []StatusSummaryRow `json:"by_status"`
	ByMethod         []MethodSummaryRow `json:"by_method"`
	TotalBilled      decimal.Decimal    `json:"total_billed"`
	TotalCollected   decimal.Decimal    `json:"total_collected"`
	TotalOutstanding decimal.Decimal    `json:"total_outstanding"`
	Unallocated      decimal.Decimal    `json:"unallocated"`
}

type OutstandingRow struct {
	InvoiceID     uint            `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	StudentID     uint            `json:"student_id"`
	StudentName   string          `json:"student_name"`
	AdmissionNo   string          `json:"admission_no"`
	DueDate       time.Time       `json:"due_date"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BalanceAmount decimal.Decimal `json:"balance_amount"`
	Status        string          `json:"status"`
}

type OutstandingFilter struct {
	Query    string // matches invoice number, admission number or student name
	Page     int    // 1-based
	PageSize int    // default 50
	SortBy   string // "due","-due","balance","-balance","number","-number"
}

// ===== Service =====

type Reports interface {
	CollectionSummary(ctx context.Context, tenantID string, from, to *time.Time) (CollectionSummary, error)
	OutstandingInvoices(ctx context.Context, tenantID string, f OutstandingFilter) ([]OutstandingRow, int64, error)
}

type reports struct{ db *gorm.DB }

func NewReports(db *gorm.DB) Reports { return &reports{db: db} }

func (s *reports) CollectionSummary(ctx context.Context, tenantID string, from, to *time.Time) (CollectionSummary, error) {
	out := CollectionSummary{From: from, To: to}

	invQ := s.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Select(`
			status,
			COUNT(id) AS invoices,
			COALESCE(SUM(net_amount), 0)     AS net_amount,
			COALESCE(SUM(paid_amount), 0)    AS paid_amount,
			COALESCE(SUM(balance_amount), 0) AS balance_amount
		`).
		Where("tenant_id = ?", tenantID)
	if from != nil {
		invQ = invQ.Where("due_date >= ?", *from)
	}
	if to != nil {
		invQ = invQ.Where("due_date < ?", *to)
	}
	if err := invQ.Group("status").Order("status ASC").Scan(&out.ByStatus).Error; err != nil {
		return CollectionSummary{}, err
	}

	payQ := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select(`
			payment_method AS method,
			COUNT(id) AS payments,
			COALESCE(SUM(amount), 0) AS amount
		`).
		Where("tenant_id = ? AND status = ?", tenantID, models.PaymentSuccess)
	if from != nil {
		payQ = payQ.Where("payment_date >= ?", *from)
	}
	if to != nil {
		payQ = payQ.Where("payment_date < ?", *to)
	}
	if err := payQ.Group("payment_method").Order("payment_method ASC").Scan(&out.ByMethod).Error; err != nil {
		return CollectionSummary{}, err
	}

	var unallocated struct{ Amount decimal.Decimal }
	unQ := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("COALESCE(SUM(amount), 0) AS amount").
		Where("tenant_id = ? AND status = ? AND invoice_id IS NULL", tenantID, models.PaymentSuccess)
	if from != nil {
		unQ = unQ.Where("payment_date >= ?", *from)
	}
	if to != nil {
		unQ = unQ.Where("payment_date < ?", *to)
	}
	if err := unQ.Scan(&unallocated).Error; err != nil {
		return CollectionSummary{}, err
	}
	out.Unallocated = unallocated.Amount

	for _, r := range out.ByStatus {
		out.TotalBilled = out.TotalBilled.Add(r.NetAmount)
		out.TotalOutstanding = out.TotalOutstanding.Add(r.BalanceAmount)
	}
	for _, r := range out.ByMethod {
		out.TotalCollected = out.TotalCollected.Add(r.Amount)
	}
	return out, nil
}

func (s *reports) OutstandingInvoices(ctx context.Context, tenantID string, f OutstandingFilter) ([]OutstandingRow, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 500 {
		f.PageSize = 50
	}

	base := s.db.WithContext(ctx).
		Table("invoices").
		Joins("INNER JOIN students st ON st.id = invoices.student_id AND st.tenant_id = invoices.tenant_id").
		Where("invoices.tenant_id = ? AND invoices.balance_amount > 0", tenantID)

	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		base = base.Where(`(LOWER(invoices.invoice_number) LIKE ? OR LOWER(st.admission_no) LIKE ?
			OR LOWER(st.first_name || ' ' || st.last_name) LIKE ?)`, like, like, like)
	}

	// Count
	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := base.Select(`
		invoices.id AS invoice_id,
		invoices.invoice_number,
		invoices.student_id,
		st.first_name || ' ' || st.last_name AS student_name,
		st.admission_no,
		invoices.due_date,
		invoices.net_amount,
		invoices.paid_amount,
		invoices.balance_amount,
		invoices.status
	`)

	// Sorting
	switch f.SortBy {
	case "due":
		q = q.Order("invoices.due_date ASC")
	case "-due":
		q = q.Order("invoices.due_date DESC")
	case "balance":
		q = q.Order("invoices.balance_amount ASC")
	case "-balance":
		q = q.Order("invoices.balance_amount DESC")
	case "number":
		q = q.Order("invoices.invoice_number ASC")
	case "-number":
		q = q.Order("invoices.invoice_number DESC")
	default:
		q = q.Order("invoices.due_date ASC, invoices.id ASC")
	}

	// Pagination
	offset := (f.Page - 1) * f.PageSize
	rows := []OutstandingRow{}
	if err := q.Offset(offset).Limit(f.PageSize).Scan(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
