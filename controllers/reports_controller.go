package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/manodhiambo/school-management-system-sub003/service"
	"github.com/manodhiambo/school-management-system-sub003/utils"

	"github.com/gin-gonic/gin"
)

// =============== Helpers ===============

func getInt(c *gin.Context, key string, def int) int {
	v, _ := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if v <= 0 {
		return def
	}
	return v
}

// getDate reads an optional YYYY-MM-DD query value.
func getDate(c *gin.Context, key string) (*time.Time, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =======================================
// ==========   CONTROLLERS   ============
// =======================================

// GET /api/reports/collections?from=&to=
// "to" is inclusive of the whole day.
func (h *Handler) ReportCollections(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	from, err := getDate(c, "from")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "from must be YYYY-MM-DD", err)
		return
	}
	to, err := getDate(c, "to")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "to must be YYYY-MM-DD", err)
		return
	}
	if to != nil {
		end := to.AddDate(0, 0, 1)
		to = &end
	}

	sum, err := h.Reports.CollectionSummary(c.Request.Context(), tenantID, from, to)
	if err != nil {
		h.fail(c, "failed to build collection report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sum})
}

// GET /api/reports/outstanding?q=&sort=&page=&page_size=
func (h *Handler) ReportOutstanding(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	page := getInt(c, "page", 1)
	size := getInt(c, "page_size", 50)

	rows, total, err := h.Reports.OutstandingInvoices(c.Request.Context(), tenantID, service.OutstandingFilter{
		Query:    c.Query("q"),
		Page:     page,
		PageSize: size,
		SortBy:   c.DefaultQuery("sort", ""),
	})
	if err != nil {
		h.fail(c, "failed to build outstanding report", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": rows,
		"pagination": gin.H{
			"page":      page,
			"page_size": size,
			"total":     total,
		},
	})
}
