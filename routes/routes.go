package routes

import (
	"net/http"
	"time"

	"github.com/manodhiambo/school-management-system-sub003/controllers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *controllers.Handler, auth gin.HandlerFunc, origins []string) {
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		// called by the gateway, no bearer token
		api.POST("/mpesa/callback", h.MpesaCallback)

		authed := api.Group("/", auth)

		mpesa := authed.Group("/mpesa")
		{
			mpesa.POST("/stk-push", h.InitiateStkPush)
			mpesa.GET("/status/:checkoutRequestId", h.QueryStkStatus)
			mpesa.GET("/transactions/:id", h.GetMpesaTransaction)
		}

		authed.GET("/students/:id/mpesa-transactions", h.ListStudentMpesaTransactions)

		authed.POST("/payments", h.RecordPayment)

		invoices := authed.Group("/invoices")
		{
			invoices.POST("", h.CreateInvoice)
			invoices.POST("/bulk", h.GenerateInvoices)
			invoices.GET("/:id", h.GetInvoice)
			invoices.GET("/:id/payments", h.ListInvoicePayments)
		}

		reports := authed.Group("/reports")
		{
			reports.GET("/collections", h.ReportCollections)
			reports.GET("/outstanding", h.ReportOutstanding)
		}
	}
}
