package api

import (
	"net/http"

	authDelivery "mailvault/internal/auth/delivery"
	messageDelivery "mailvault/internal/message/delivery"
	"mailvault/pkg/config"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, handler *messageDelivery.MessageHandler, cfg *config.Config) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		protected := api.Group("")
		protected.Use(authDelivery.AuthMiddleware(cfg.APISecret))
		{
			imports := protected.Group("/imports")
			{
				imports.POST("", handler.StartImport)
				imports.GET("", handler.ListJobs)
				imports.GET("/:id", handler.GetJob)
				imports.POST("/:id/cancel", handler.CancelJob)
			}

			protected.GET("/messages/:id", handler.GetMessage)
			protected.POST("/search", handler.Search)
			protected.POST("/embeddings/backfill", handler.BackfillEmbeddings)
			protected.GET("/status", handler.Status)
		}
	}
}
