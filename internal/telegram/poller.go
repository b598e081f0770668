package telegram

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/models"
	"github.com/speedwatch/speedwatch/internal/storage"
)

const pollTimeoutSec = 30

// Handler wires inbound chat actions to the rest of the master. Digest
// renders an on-demand digest for one chat using its stored preferences.
type Handler struct {
	Prefs       storage.PrefStore
	DefaultsFor func(chatID string) storage.Defaults
	Digest      func(ctx context.Context, chatID string) (string, error)
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		ID      string `json:"id"`
		Data    string `json:"data"`
		Message struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

// Poll long-polls getUpdates until the context is cancelled. Each update is
// handled independently; a failing handler never stops the loop.
func (c *Client) Poll(ctx context.Context, h Handler) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		var resp apiResponse
		err := c.call(ctx, "getUpdates", map[string]any{
			"offset":  offset,
			"timeout": pollTimeoutSec,
		}, &resp)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		var updates []update
		if err := json.Unmarshal(resp.Result, &updates); err != nil {
			c.log.Warn("getUpdates: bad result payload", zap.Error(err))
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			c.handleUpdate(ctx, h, u)
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, h Handler, u update) {
	switch {
	case u.CallbackQuery != nil:
		chatID := strconv.FormatInt(u.CallbackQuery.Message.Chat.ID, 10)
		c.handleCallback(ctx, h, chatID, u.CallbackQuery.ID, u.CallbackQuery.Data)
	case u.Message != nil:
		chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
		c.handleCommand(ctx, h, chatID, strings.TrimSpace(u.Message.Text))
	}
}

func (c *Client) handleCommand(ctx context.Context, h Handler, chatID, text string) {
	switch {
	case strings.HasPrefix(text, "/settings"):
		pref, err := h.Prefs.GetOrDefault(chatID, h.DefaultsFor(chatID))
		if err != nil {
			c.log.Error("prefs lookup failed", zap.String("chat_id", chatID), zap.Error(err))
			return
		}
		kb := settingsKeyboard()
		body := "⚙️ " + pref.Language + " / " + pref.ViewMode
		if err := c.sendMessage(ctx, chatID, body, kb); err != nil {
			c.log.Warn("settings reply failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	case strings.HasPrefix(text, "/status"):
		if h.Digest == nil {
			return
		}
		body, err := h.Digest(ctx, chatID)
		if err != nil {
			c.log.Error("on-demand digest failed", zap.String("chat_id", chatID), zap.Error(err))
			return
		}
		if err := c.SendMessage(ctx, chatID, body); err != nil {
			c.log.Warn("status reply failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

func (c *Client) handleCallback(ctx context.Context, h Handler, chatID, callbackID, data string) {
	def := h.DefaultsFor(chatID)
	var err error
	ack := "✓"

	switch data {
	case "lang:en", "lang:ru":
		_, err = h.Prefs.SetLanguage(chatID, strings.TrimPrefix(data, "lang:"), def)
	case "view:" + models.ViewCompact, "view:" + models.ViewDetailed:
		_, err = h.Prefs.SetViewMode(chatID, strings.TrimPrefix(data, "view:"), def)
	default:
		ack = "?"
	}
	if err != nil {
		// Persistence failure is fatal for this change only; the next digest
		// uses the last persisted preference.
		c.log.Error("preference change not persisted",
			zap.String("chat_id", chatID), zap.String("data", data), zap.Error(err))
		ack = "✗"
	}

	if err := c.answerCallback(ctx, callbackID, ack); err != nil {
		c.log.Warn("answerCallbackQuery failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func settingsKeyboard() *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{
			{Text: "English", CallbackData: "lang:en"},
			{Text: "Русский", CallbackData: "lang:ru"},
		},
		{
			{Text: "Compact", CallbackData: "view:" + models.ViewCompact},
			{Text: "Detailed", CallbackData: "view:" + models.ViewDetailed},
		},
	}}
}
