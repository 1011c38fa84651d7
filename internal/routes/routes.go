package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"proforma-reconciliation-backend/internal/config"
	handler "proforma-reconciliation-backend/internal/handlers"
	"proforma-reconciliation-backend/internal/logger"
	"proforma-reconciliation-backend/internal/repository"
	service "proforma-reconciliation-backend/internal/services/reconciliation"
)

// requestLogger stamps a request-scoped logger into the request context so
// handlers can log with the method/path fields attached.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := log.With().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLog))
		c.Next()
	}
}

func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Matching, log zerolog.Logger) {
	r.Use(requestLogger(log))

	paymentRepo := repository.NewPaymentRepository(db)
	proformaRepo := repository.NewProformaRepository(db)

	reconService := service.NewService(paymentRepo, proformaRepo, cfg, log)

	reconHandler := handler.NewReconciliationHandler(reconService)
	proformaHandler := handler.NewProformaHandler(proformaRepo)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Payment routes
	payments := api.Group("/payments")
	payments.GET("", reconHandler.ListPayments)
	payments.POST("/ingest", reconHandler.IngestPayments)
	payments.GET("/:id", reconHandler.GetPayment)
	payments.POST("/:id/assign", reconHandler.AssignPayment)
	payments.POST("/:id/unmatch", reconHandler.UnmatchPayment)
	payments.POST("/:id/approve", reconHandler.ApprovePayment)
	payments.POST("/:id/reject", reconHandler.RejectPayment)

	// Reconciliation batch routes
	recon := api.Group("/reconciliation")
	recon.POST("/run", reconHandler.RunRescore)
	recon.GET("/runs/:id", reconHandler.GetRescoreRun)
	recon.POST("/bulk-approve", reconHandler.BulkApprove)
	recon.POST("/reset", reconHandler.Reset)
	recon.GET("/stats", reconHandler.GetStats)

	// Duplicate cleanup routes
	duplicates := api.Group("/duplicates")
	duplicates.GET("", reconHandler.ListDuplicates)
	duplicates.DELETE("/:id", reconHandler.DeleteDuplicate)
	duplicates.POST("/delete-all-except-first", reconHandler.DeleteAllExceptFirst)

	// Proforma routes
	proformas := api.Group("/proformas")
	{
		proformas.POST("", proformaHandler.CreateProforma)
		proformas.GET("/:fullnumber/remaining", proformaHandler.GetRemaining)
	}
}
