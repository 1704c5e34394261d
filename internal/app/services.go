package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/chatdex/chatdex-backend/internal/bot"
	"github.com/chatdex/chatdex-backend/internal/platform/botapi"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/services"
	"github.com/chatdex/chatdex-backend/internal/transport"
)

type Services struct {
	Gateway  *transport.Gateway
	Extract  services.Extractor
	Gate     services.DedupGate
	Ingest   services.IngestService
	Backfill services.BackfillService
	Query    services.QueryService
	Notifier services.MissNotifier
	Poller   *bot.Poller
}

func wireServices(ctx context.Context, db *gorm.DB, log *logger.Logger, cfg Config, repos Repos) (Services, error) {
	log.Info("Wiring services...")

	client, err := botapi.NewClient(log)
	if err != nil {
		return Services{}, fmt.Errorf("init bot api client: %w", err)
	}
	gateway := transport.NewGateway(client, cfg.GatewayMaxConcurrent, log)

	extract := services.NewExtractor(log)
	gate := services.NewDedupGate(log, repos.FileRecord)
	ingest := services.NewIngestService(db, log, extract, gate, repos.FileRecord)
	backfill := services.NewBackfillService(ctx, db, log, gateway, ingest, repos.IndexCursor, cfg.Backfill)
	query := services.NewQueryService(db, log, repos.FileRecord)
	notifier := services.NewMissNotifier(log, gateway)

	var poller *bot.Poller
	if cfg.PollerEnabled {
		poller = bot.NewPoller(log, gateway, ingest, query, notifier, cfg.PollTimeout)
	}

	return Services{
		Gateway:  gateway,
		Extract:  extract,
		Gate:     gate,
		Ingest:   ingest,
		Backfill: backfill,
		Query:    query,
		Notifier: notifier,
		Poller:   poller,
	}, nil
}
