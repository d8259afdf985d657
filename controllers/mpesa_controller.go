package controllers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/manodhiambo/school-management-system-sub003/service"
	"github.com/manodhiambo/school-management-system-sub003/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCallbackBytes = 64 << 10

// POST /api/mpesa/stk-push
func (h *Handler) InitiateStkPush(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var in service.InitiateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	in.InitiatedBy = currentUserID(c)

	txn, err := h.Mpesa.Initiate(c.Request.Context(), tenantID, in)
	if err != nil {
		h.fail(c, "failed to initiate M-Pesa payment", err)
		return
	}
	checkout := ""
	if txn.CheckoutRequestID != nil {
		checkout = *txn.CheckoutRequestID
	}
	c.JSON(http.StatusOK, gin.H{
		"message":             "STK push sent. Please check your phone to complete the payment.",
		"transaction_id":      txn.ID,
		"checkout_request_id": checkout,
	})
}

// GET /api/mpesa/status/:checkoutRequestId
func (h *Handler) QueryStkStatus(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	resp, err := h.Mpesa.QueryStatus(c.Request.Context(), tenantID, c.Param("checkoutRequestId"))
	if err != nil {
		h.fail(c, "failed to query M-Pesa status", err)
		return
	}
	utils.Success(c, "ok", resp)
}

// GET /api/mpesa/transactions/:id
func (h *Handler) GetMpesaTransaction(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	id, err := paramID(c, "id")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid transaction id", err)
		return
	}
	txn, err := h.Mpesa.GetTransaction(c.Request.Context(), tenantID, id)
	if err != nil {
		h.fail(c, "failed to load transaction", err)
		return
	}
	utils.Success(c, "ok", txn)
}

// GET /api/students/:id/mpesa-transactions
func (h *Handler) ListStudentMpesaTransactions(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	id, err := paramID(c, "id")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid student id", err)
		return
	}
	rows, err := h.Mpesa.ListStudentTransactions(c.Request.Context(), tenantID, id)
	if err != nil {
		h.fail(c, "failed to load transactions", err)
		return
	}
	utils.Success(c, "ok", rows)
}

// POST /api/mpesa/callback
//
// Always acknowledged with 200. Outcomes and failures go to the log.
func (h *Handler) MpesaCallback(c *gin.Context) {
	defer c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Success"})

	rid := c.GetString("request_id")

	if h.CallbackToken != "" {
		got := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.CallbackToken)) != 1 {
			h.Log.Warn("mpesa callback rejected: bad token",
				zap.String("request_id", rid),
				zap.String("client_ip", c.ClientIP()),
			)
			return
		}
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBytes))
	if err != nil {
		h.Log.Error("mpesa callback: read body", zap.String("request_id", rid), zap.Error(err))
		return
	}

	res, err := h.Mpesa.HandleCallback(c.Request.Context(), raw)
	if err != nil {
		fields := []zap.Field{
			zap.String("request_id", rid),
			zap.ByteString("payload", raw),
			zap.Error(err),
		}
		if res != nil {
			fields = append(fields, zap.String("checkout_request_id", res.CheckoutRequestID))
		}
		if errors.Is(err, service.ErrReconciliation) {
			h.Log.Error("mpesa callback could not be reconciled", fields...)
		} else {
			h.Log.Error("mpesa callback failed", fields...)
		}
		return
	}

	fields := []zap.Field{
		zap.String("request_id", rid),
		zap.String("checkout_request_id", res.CheckoutRequestID),
		zap.String("outcome", string(res.Outcome)),
		zap.Uint("transaction_id", res.TransactionID),
	}
	if res.Payment != nil {
		fields = append(fields, zap.String("receipt", res.Payment.ReceiptNumber))
	}
	switch res.Outcome {
	case service.OutcomeUnmatched:
		h.Log.Warn("mpesa callback for unknown checkout request", append(fields, zap.ByteString("payload", raw))...)
	case service.OutcomeDuplicate:
		h.Log.Info("mpesa callback already processed", fields...)
	default:
		h.Log.Info("mpesa callback processed", fields...)
	}
}
