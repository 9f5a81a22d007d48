package tg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"matjar-bot/internal/metrics"
)

// ErrConflict signals that another process instance is already long-polling
// with the same token. The caller must exit rather than compete.
var ErrConflict = errors.New("another instance is connected")

const reconnectDelay = 10 * time.Second

// UpdateProcessor handles inbound transport updates. The poll loop invokes it
// synchronously, so per-chat arrival order is preserved.
type UpdateProcessor interface {
	ProcessUpdate(ctx context.Context, upd Update)
}

// Config holds transport client configuration.
type Config struct {
	BaseURL     string
	Token       string
	PollTimeout time.Duration
	Metrics     *metrics.Metrics
}

// Client provides typed access to the messaging transport's HTTP API.
type Client struct {
	logger      *slog.Logger
	baseURL     string
	token       string
	pollTimeout time.Duration
	http        *http.Client
	metrics     *metrics.Metrics
	processor   UpdateProcessor
}

// New creates a transport client.
func New(cfg Config, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 50 * time.Second
	}
	return &Client{
		logger:      logger.With("component", "tg"),
		baseURL:     base,
		token:       cfg.Token,
		pollTimeout: pollTimeout,
		// long poll needs headroom beyond the server-side timeout
		http:    &http.Client{Timeout: pollTimeout + 15*time.Second},
		metrics: cfg.Metrics,
	}
}

// SetUpdateProcessor registers the inbound update handler.
func (c *Client) SetUpdateProcessor(p UpdateProcessor) {
	c.processor = p
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	start := time.Now()
	status := "error"
	defer func() {
		if c.metrics != nil {
			c.metrics.TGOutgoingCalls.WithLabelValues(method, status).Inc()
			c.metrics.TGCallLatency.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
		}
	}()

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK {
		if envelope.ErrorCode == http.StatusConflict {
			return ErrConflict
		}
		return fmt.Errorf("%s: api error %d: %s", method, envelope.ErrorCode, envelope.Description)
	}

	status = "ok"
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetUpdates long-polls for the next batch of updates.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         int(c.pollTimeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// Poll runs the long-poll read loop until ctx is cancelled. It reconnects
// after a delay on generic errors and fails fast with ErrConflict when a
// second instance is detected.
func (c *Client) Poll(ctx context.Context) error {
	var offset int64
	for {
		updates, err := c.GetUpdates(ctx, offset)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				c.logger.Error("conflicting instance detected, shutting down")
				return ErrConflict
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("poll failed, reconnecting", "error", err)
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		for _, upd := range updates {
			offset = upd.UpdateID + 1
			if c.metrics != nil {
				c.metrics.TGIncomingUpdates.WithLabelValues(updateType(upd)).Inc()
			}
			if c.processor != nil {
				c.processor.ProcessUpdate(ctx, upd)
			}
		}
	}
}

func updateType(upd Update) string {
	switch {
	case upd.CallbackQuery != nil:
		return "callback"
	case upd.Message != nil && len(upd.Message.Photo) > 0:
		return "photo"
	case upd.Message != nil:
		return "text"
	default:
		return "other"
	}
}

// SendMessage sends text with an optional inline keyboard and returns the new
// message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) (int64, error) {
	params := map[string]any{"chat_id": chatID, "text": text}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}
	var msg Message
	if err := c.call(ctx, "sendMessage", params, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendPhoto sends a photo by file id with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, fileID, caption string) error {
	params := map[string]any{"chat_id": chatID, "photo": fileID}
	if caption != "" {
		params["caption"] = caption
	}
	return c.call(ctx, "sendPhoto", params, nil)
}

// SendToChannel sends text to a channel addressed by @username.
func (c *Client) SendToChannel(ctx context.Context, channel, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{"chat_id": channel, "text": text}, nil)
}

// SendPhotoToChannel posts a photo to a channel addressed by @username.
func (c *Client) SendPhotoToChannel(ctx context.Context, channel, fileID, caption string) error {
	params := map[string]any{"chat_id": channel, "photo": fileID}
	if caption != "" {
		params["caption"] = caption
	}
	return c.call(ctx, "sendPhoto", params, nil)
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *InlineKeyboardMarkup) error {
	params := map[string]any{"chat_id": chatID, "message_id": messageID, "text": text}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}
	return c.call(ctx, "editMessageText", params, nil)
}

// EditReplyMarkup replaces only the inline keyboard of a message.
func (c *Client) EditReplyMarkup(ctx context.Context, chatID, messageID int64, keyboard *InlineKeyboardMarkup) error {
	params := map[string]any{"chat_id": chatID, "message_id": messageID}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}
	return c.call(ctx, "editMessageReplyMarkup", params, nil)
}

// DeleteMessage removes a message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{"chat_id": chatID, "message_id": messageID}, nil)
}

// AnswerCallback acknowledges a button tap with an optional toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// IsChannelMember queries whether userID currently belongs to the channel.
// The channel may be an id or an @username.
func (c *Client) IsChannelMember(ctx context.Context, channel string, userID int64) (bool, error) {
	var chatID any = channel
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		chatID = id
	}
	var member ChatMember
	if err := c.call(ctx, "getChatMember", map[string]any{"chat_id": chatID, "user_id": userID}, &member); err != nil {
		return false, err
	}
	return member.IsMember(), nil
}

// TrySend delivers text and swallows recipient errors (blocked bot, deleted
// chat); the caller's own state still advances.
func (c *Client) TrySend(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) bool {
	if _, err := c.SendMessage(ctx, chatID, text, keyboard); err != nil {
		c.logger.Warn("send failed", "chat_id", chatID, "error", err)
		return false
	}
	return true
}
