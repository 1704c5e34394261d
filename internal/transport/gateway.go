package transport

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chatdex/chatdex-backend/internal/platform/botapi"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
)

// Gateway serializes every outbound transport call through a fixed-capacity
// slot budget, so total outstanding external calls never exceed the capacity
// regardless of how many walks and handlers are in flight. One slot, one call,
// release: no nested acquisition. The gateway never retries; it classifies the
// failure and returns.
type Gateway struct {
	inner Client
	slots *semaphore.Weighted
	log   *logger.Logger
}

var _ Client = (*Gateway)(nil)

func NewGateway(inner Client, maxConcurrent int, baseLog *logger.Logger) *Gateway {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Gateway{
		inner: inner,
		slots: semaphore.NewWeighted(int64(maxConcurrent)),
		log:   baseLog.With("component", "Gateway"),
	}
}

func (g *Gateway) acquire(ctx context.Context) error {
	return g.slots.Acquire(ctx, 1)
}

func (g *Gateway) release() {
	g.slots.Release(1)
}

func (g *Gateway) GetMessage(ctx context.Context, roomID int64, messageID int64) (*botapi.Message, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()
	msg, err := g.inner.GetMessage(ctx, roomID, messageID)
	if err != nil {
		return nil, classify("getMessage", err)
	}
	return msg, nil
}

func (g *Gateway) GetChat(ctx context.Context, roomID int64) (*botapi.Chat, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()
	chat, err := g.inner.GetChat(ctx, roomID)
	if err != nil {
		return nil, classify("getChat", err)
	}
	return chat, nil
}

func (g *Gateway) GetChatAdministrators(ctx context.Context, roomID int64) ([]botapi.ChatMember, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()
	admins, err := g.inner.GetChatAdministrators(ctx, roomID)
	if err != nil {
		return nil, classify("getChatAdministrators", err)
	}
	return admins, nil
}

func (g *Gateway) SendMessage(ctx context.Context, roomID int64, text string) (*botapi.Message, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()
	msg, err := g.inner.SendMessage(ctx, roomID, text)
	if err != nil {
		return nil, classify("sendMessage", err)
	}
	return msg, nil
}

func (g *Gateway) EditMessageText(ctx context.Context, roomID int64, messageID int64, text string) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()
	if err := g.inner.EditMessageText(ctx, roomID, messageID, text); err != nil {
		return classify("editMessageText", err)
	}
	return nil
}

func (g *Gateway) DeleteMessage(ctx context.Context, roomID int64, messageID int64) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()
	if err := g.inner.DeleteMessage(ctx, roomID, messageID); err != nil {
		return classify("deleteMessage", err)
	}
	return nil
}

func (g *Gateway) SendFile(ctx context.Context, roomID int64, kind string, externalFileID string, caption string) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()
	if err := g.inner.SendFile(ctx, roomID, kind, externalFileID, caption); err != nil {
		return classify("sendFile", err)
	}
	return nil
}

func (g *Gateway) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]botapi.Update, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()
	updates, err := g.inner.GetUpdates(ctx, offset, timeout)
	if err != nil {
		return nil, classify("getUpdates", err)
	}
	return updates, nil
}
