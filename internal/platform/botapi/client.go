package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chatdex/chatdex-backend/internal/platform/logger"
)

// APIError is a non-ok response from the bot API. It keeps the HTTP status,
// the API description, and a server-indicated retry delay when one was sent.
type APIError struct {
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bot api error: status=%d description=%q", e.StatusCode, e.Description)
}

func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

type Client struct {
	log        *logger.Logger
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (*Client, error) {
	token := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if token == "" {
		return nil, fmt.Errorf("missing BOT_TOKEN")
	}

	baseURL := strings.TrimSpace(os.Getenv("BOT_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 60
	if v := os.Getenv("BOT_API_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	clientLog := log.With("client", "BotAPIClient")
	return &Client{
		log:     clientLog,
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
	}, nil
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// call performs exactly one request: no retries and no backoff, those belong
// to the caller behind the gateway.
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", method, err)
		}
		reader = bytes.NewReader(raw)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("read %s response: %w", method, readErr)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode %s response: %w", method, err)
	}

	if !envelope.OK {
		apiErr := &APIError{
			StatusCode:  resp.StatusCode,
			Description: envelope.Description,
		}
		if envelope.ErrorCode != 0 {
			apiErr.StatusCode = envelope.ErrorCode
		}
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) GetMessage(ctx context.Context, roomID int64, messageID int64) (*Message, error) {
	var msg Message
	err := c.call(ctx, "getMessage", map[string]any{
		"chat_id":    roomID,
		"message_id": messageID,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) GetChat(ctx context.Context, roomID int64) (*Chat, error) {
	var chat Chat
	if err := c.call(ctx, "getChat", map[string]any{"chat_id": roomID}, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) GetChatAdministrators(ctx context.Context, roomID int64) ([]ChatMember, error) {
	var admins []ChatMember
	if err := c.call(ctx, "getChatAdministrators", map[string]any{"chat_id": roomID}, &admins); err != nil {
		return nil, err
	}
	return admins, nil
}

func (c *Client) SendMessage(ctx context.Context, roomID int64, text string) (*Message, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id": roomID,
		"text":    text,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) EditMessageText(ctx context.Context, roomID int64, messageID int64, text string) error {
	return c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    roomID,
		"message_id": messageID,
		"text":       text,
	}, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, roomID int64, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    roomID,
		"message_id": messageID,
	}, nil)
}

// SendFile re-sends a stored attachment by its external file id. The method
// name varies per kind (sendDocument, sendVideo, sendAudio, sendPhoto) and so
// does the payload key carrying the id.
func (c *Client) SendFile(ctx context.Context, roomID int64, kind string, externalFileID string, caption string) error {
	var method, field string
	switch kind {
	case "document":
		method, field = "sendDocument", "document"
	case "video":
		method, field = "sendVideo", "video"
	case "audio":
		method, field = "sendAudio", "audio"
	case "photo":
		method, field = "sendPhoto", "photo"
	default:
		return fmt.Errorf("unknown file kind %q", kind)
	}
	return c.call(ctx, method, map[string]any{
		"chat_id": roomID,
		field:     externalFileID,
		"caption": caption,
	}, nil)
}

func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":  offset,
		"timeout": int(timeout.Seconds()),
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}
