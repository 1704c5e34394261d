package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/chatdex/chatdex-backend/internal/http/handlers"
	httpMW "github.com/chatdex/chatdex-backend/internal/http/middleware"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	HealthHandler   *httpH.HealthHandler
	BackfillHandler *httpH.BackfillHandler
	CatalogHandler  *httpH.CatalogHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Backfill walks
		if cfg.BackfillHandler != nil {
			api.POST("/rooms/:id/backfill", cfg.BackfillHandler.Start)
			api.GET("/rooms/:id/backfill", cfg.BackfillHandler.Status)
			api.DELETE("/rooms/:id/backfill", cfg.BackfillHandler.Cancel)
		}

		// Catalog
		if cfg.CatalogHandler != nil {
			api.GET("/rooms/:id/files", cfg.CatalogHandler.Search)
			api.GET("/rooms/:id/stats", cfg.CatalogHandler.Stats)
		}
	}

	return r
}
