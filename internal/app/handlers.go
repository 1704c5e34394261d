package app

import (
	httpX "github.com/chatdex/chatdex-backend/internal/http"
	httpH "github.com/chatdex/chatdex-backend/internal/http/handlers"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
)

func wireRouterConfig(log *logger.Logger, serviceset Services) httpX.RouterConfig {
	log.Info("Wiring handlers...")
	return httpX.RouterConfig{
		Log:             log,
		HealthHandler:   httpH.NewHealthHandler(),
		BackfillHandler: httpH.NewBackfillHandler(serviceset.Backfill),
		CatalogHandler:  httpH.NewCatalogHandler(log, serviceset.Query),
	}
}
