package controllers

import (
	"errors"
	"net/http"

	"github.com/manodhiambo/school-management-system-sub003/service"
	"github.com/manodhiambo/school-management-system-sub003/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	Invoices      *service.Invoices
	Payments      *service.Payments
	Mpesa         *service.Mpesa
	Reports       service.Reports
	CallbackToken string
	Log           *zap.Logger
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrGatewayTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error response. Internal errors are logged and not echoed.
func (h *Handler) fail(c *gin.Context, message string, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		h.Log.Error(message,
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
		utils.Error(c, code, message, nil)
		return
	}
	utils.Error(c, code, message, err)
}

// tenant resolves the caller's tenant or writes 401.
func (h *Handler) tenant(c *gin.Context) (string, bool) {
	tenantID, err := currentTenantID(c)
	if err != nil {
		utils.Error(c, http.StatusUnauthorized, "unauthorized", err)
		return "", false
	}
	return tenantID, true
}
