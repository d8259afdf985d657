package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/manodhiambo/school-management-system-sub003/service"
	"github.com/manodhiambo/school-management-system-sub003/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type invoiceRequest struct {
	StudentID      uint            `json:"student_id"`
	StudentIDs     []uint          `json:"student_ids"`
	Description    string          `json:"description"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DueDate        string          `json:"due_date"`
}

// parseDate accepts 2006-01-02 or RFC3339.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: due_date must be YYYY-MM-DD", service.ErrValidation)
	}
	return t, nil
}

// POST /api/invoices
func (h *Handler) CreateInvoice(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		h.fail(c, "invalid request body", err)
		return
	}

	inv, err := h.Invoices.CreateInvoice(c.Request.Context(), tenantID, service.InvoiceInput{
		StudentID:      req.StudentID,
		Description:    req.Description,
		TotalAmount:    req.TotalAmount,
		DiscountAmount: req.DiscountAmount,
		DueDate:        due,
	})
	if err != nil {
		h.fail(c, "failed to create invoice", err)
		return
	}
	utils.Created(c, "invoice created", inv)
}

// POST /api/invoices/bulk
func (h *Handler) GenerateInvoices(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		h.fail(c, "invalid request body", err)
		return
	}

	rows, err := h.Invoices.GenerateInvoices(c.Request.Context(), tenantID, service.BulkInvoiceInput{
		StudentIDs:     req.StudentIDs,
		Description:    req.Description,
		TotalAmount:    req.TotalAmount,
		DiscountAmount: req.DiscountAmount,
		DueDate:        due,
	})
	if err != nil {
		h.fail(c, "failed to generate invoices", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": fmt.Sprintf("%d invoices generated", len(rows)),
		"data":    rows,
	})
}

// GET /api/invoices/:id
func (h *Handler) GetInvoice(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	id, err := paramID(c, "id")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid invoice id", err)
		return
	}
	inv, err := h.Invoices.GetInvoice(c.Request.Context(), tenantID, id)
	if err != nil {
		h.fail(c, "failed to load invoice", err)
		return
	}
	utils.Success(c, "ok", inv)
}

// GET /api/invoices/:id/payments
func (h *Handler) ListInvoicePayments(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	id, err := paramID(c, "id")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid invoice id", err)
		return
	}
	rows, err := h.Payments.ListInvoicePayments(c.Request.Context(), tenantID, id)
	if err != nil {
		h.fail(c, "failed to load payments", err)
		return
	}
	utils.Success(c, "ok", rows)
}
