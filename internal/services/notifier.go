package services

import (
	"context"
	"fmt"

	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/transport"
)

// MissNotifier delivers a miss to the room's responsible parties. Baseline
// policy: every non-bot administrator is messaged on every miss.
type MissNotifier interface {
	NotifyMiss(ctx context.Context, miss Miss) error
}

type missNotifier struct {
	log     *logger.Logger
	gateway transport.Client
}

func NewMissNotifier(baseLog *logger.Logger, gateway transport.Client) MissNotifier {
	return &missNotifier{
		log:     baseLog.With("service", "MissNotifier"),
		gateway: gateway,
	}
}

func (n *missNotifier) NotifyMiss(ctx context.Context, miss Miss) error {
	admins, err := n.gateway.GetChatAdministrators(ctx, miss.RoomID)
	if err != nil {
		return fmt.Errorf("NotifyMiss: list administrators for room %d: %w", miss.RoomID, err)
	}

	text := fmt.Sprintf("File '%s' not found in chat %d", miss.Query, miss.RoomID)
	notified := 0
	for _, admin := range admins {
		if admin.User.IsBot {
			continue
		}
		if _, err := n.gateway.SendMessage(ctx, admin.User.ID, text); err != nil {
			n.log.Warn("Miss notification failed for administrator",
				"room_id", miss.RoomID,
				"admin_id", admin.User.ID,
				"error", err,
			)
			continue
		}
		notified++
	}

	n.log.Info("Miss notified to administrators",
		"room_id", miss.RoomID,
		"query", miss.Query,
		"notified", notified,
	)
	return nil
}
