package transport

import (
	"context"
	"time"

	"github.com/chatdex/chatdex-backend/internal/platform/botapi"
)

// Client is the chat-transport collaborator contract. The core never assumes a
// history-listing capability: historical discovery happens only through
// GetMessage point lookups.
type Client interface {
	GetMessage(ctx context.Context, roomID int64, messageID int64) (*botapi.Message, error)
	GetChat(ctx context.Context, roomID int64) (*botapi.Chat, error)
	GetChatAdministrators(ctx context.Context, roomID int64) ([]botapi.ChatMember, error)
	SendMessage(ctx context.Context, roomID int64, text string) (*botapi.Message, error)
	EditMessageText(ctx context.Context, roomID int64, messageID int64, text string) error
	DeleteMessage(ctx context.Context, roomID int64, messageID int64) error
	SendFile(ctx context.Context, roomID int64, kind string, externalFileID string, caption string) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]botapi.Update, error)
}
