package controllers

import (
	"net/http"

	"github.com/manodhiambo/school-management-system-sub003/service"
	"github.com/manodhiambo/school-management-system-sub003/utils"

	"github.com/gin-gonic/gin"
)

// POST /api/payments
func (h *Handler) RecordPayment(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var in service.PaymentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	in.RecordedBy = currentUserID(c)

	pay, inv, err := h.Payments.RecordPayment(c.Request.Context(), tenantID, in)
	if err != nil {
		h.fail(c, "failed to record payment", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "payment recorded",
		"data": gin.H{
			"payment": pay,
			"invoice": inv,
		},
	})
}
