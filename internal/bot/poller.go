package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chatdex/chatdex-backend/internal/platform/botapi"
	"github.com/chatdex/chatdex-backend/internal/platform/dbctx"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/services"
	"github.com/chatdex/chatdex-backend/internal/transport"
)

var searchPattern = regexp.MustCompile(`(?i)^[!/]search\s+(.+)$`)

// Poller is the live ingestion path: it long-polls the transport for new
// messages and routes them through the same extraction and persistence
// primitives the backfill walker uses, with provenance direct. It holds no
// catalog logic of its own.
type Poller struct {
	log      *logger.Logger
	gateway  transport.Client
	ingest   services.IngestService
	query    services.QueryService
	notifier services.MissNotifier

	pollTimeout    time.Duration
	statusInterval time.Duration
	lastStatusAt   time.Time
}

func NewPoller(
	baseLog *logger.Logger,
	gateway transport.Client,
	ingest services.IngestService,
	query services.QueryService,
	notifier services.MissNotifier,
	pollTimeout time.Duration,
) *Poller {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &Poller{
		log:            baseLog.With("component", "Poller"),
		gateway:        gateway,
		ingest:         ingest,
		query:          query,
		notifier:       notifier,
		pollTimeout:    pollTimeout,
		statusInterval: 10 * time.Second,
	}
}

func (p *Poller) Start(ctx context.Context) {
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	p.log.Info("Update poller started", "poll_timeout", p.pollTimeout.String())
	var offset int64

	for {
		if ctx.Err() != nil {
			p.log.Info("Update poller stopped")
			return
		}

		updates, err := p.gateway.GetUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info("Update poller stopped")
				return
			}
			pause := 2 * time.Second
			if transport.IsRateLimited(err) {
				pause = transport.RetryAfter(err, pause)
			}
			p.log.Warn("getUpdates failed", "error", err, "pause", pause.String())
			sleepCtx(ctx, pause)
			continue
		}

		for i := range updates {
			update := updates[i]
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			p.handleUpdate(ctx, update.Message)
		}
	}
}

func (p *Poller) handleUpdate(ctx context.Context, msg *botapi.Message) {
	if msg == nil {
		return
	}
	roomID := msg.Chat.ID

	if strings.HasPrefix(msg.Text, "/start") {
		if _, err := p.gateway.SendMessage(ctx, roomID, "Bot started! I index files in group chats and allow file searches."); err != nil {
			p.log.Warn("start reply failed", "room_id", roomID, "error", err)
		}
		return
	}

	// Only group-like scopes are indexed or searched.
	switch msg.Chat.Type {
	case "group", "supergroup", "channel":
	default:
		return
	}

	result, err := p.ingest.HandleNewMessage(dbctx.Context{Ctx: ctx}, msg, roomID)
	if err != nil {
		p.log.Warn("live ingest failed", "room_id", roomID, "message_id", msg.MessageID, "error", err)
	}
	if result.Indexed() {
		p.maybeSendIndexingStatus(ctx, roomID)
	}

	if m := searchPattern.FindStringSubmatch(msg.Text); m != nil {
		p.handleSearch(ctx, msg, roomID, m[1])
	}
}

func (p *Poller) handleSearch(ctx context.Context, msg *botapi.Message, roomID int64, rawQuery string) {
	queryText := strings.TrimSpace(rawQuery)
	records, err := p.query.Query(dbctx.Context{Ctx: ctx}, roomID, queryText)
	if err != nil {
		p.log.Error("search failed", "room_id", roomID, "error", err)
		return
	}

	if len(records) > 0 {
		for _, record := range records {
			caption := fmt.Sprintf("%s (%s)", record.DisplayName, record.FileKind)
			if err := p.gateway.SendFile(ctx, roomID, string(record.FileKind), record.ExternalFileID, caption); err != nil {
				p.log.Warn("file replay failed",
					"room_id", roomID,
					"external_file_id", record.ExternalFileID,
					"error", err,
				)
			}
		}
		return
	}

	miss := services.Miss{RoomID: roomID, Query: queryText}
	if msg.From != nil {
		miss.RequesterID = msg.From.ID
	}
	if err := p.notifier.NotifyMiss(ctx, miss); err != nil {
		p.log.Warn("miss notification failed", "room_id", roomID, "error", err)
	}
	if _, err := p.gateway.SendMessage(ctx, roomID, fmt.Sprintf("No files found matching '%s'.", queryText)); err != nil {
		p.log.Warn("miss reply failed", "room_id", roomID, "error", err)
	}
}

// maybeSendIndexingStatus posts a progress line at most once per interval
// while live indexing is accepting records.
func (p *Poller) maybeSendIndexingStatus(ctx context.Context, roomID int64) {
	now := time.Now()
	if now.Sub(p.lastStatusAt) < p.statusInterval {
		return
	}
	p.lastStatusAt = now

	count, err := p.query.Count(dbctx.Context{Ctx: ctx}, roomID)
	if err != nil {
		p.log.Warn("file count failed", "room_id", roomID, "error", err)
		return
	}
	if _, err := p.gateway.SendMessage(ctx, roomID, fmt.Sprintf("Indexing in progress... %d files indexed.", count)); err != nil {
		p.log.Warn("indexing status failed", "room_id", roomID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
