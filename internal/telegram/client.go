// Package telegram is the boundary to the Telegram Bot API: outbound digest
// dispatch plus the long-poll loop that feeds preference changes back into
// the store.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// Telegram rejects messages longer than this.
	maxMessageLength = 4096

	requestTimeout = 30 * time.Second
	maxAttempts    = 3
	retryDelay     = 2 * time.Second
)

// Client talks to the Bot API. Sends are rate limited and retried a bounded
// number of times; a send that keeps failing is abandoned, never queued.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient builds a client. baseURL is overridable for tests; empty means
// the public API.
func NewClient(token, baseURL string, ratePerSecond int, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 20
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
		log:     log,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, payload any, out *apiResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: bad response (HTTP %d)", method, resp.StatusCode)
	}
	if !out.OK {
		return fmt.Errorf("%s: api error: %s", method, out.Description)
	}
	return nil
}

// SendMessage delivers an HTML-formatted message, clamped to the API limit,
// with bounded retries and doubling backoff.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	return c.sendMessage(ctx, chatID, text, nil)
}

func (c *Client) sendMessage(ctx context.Context, chatID, text string, markup *InlineKeyboard) error {
	runes := []rune(text)
	if len(runes) > maxMessageLength {
		text = string(runes[:maxMessageLength])
	}

	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}

	var lastErr error
	delay := retryDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var resp apiResponse
		lastErr = c.call(ctx, "sendMessage", payload, &resp)
		if lastErr == nil {
			return nil
		}
		c.log.Warn("sendMessage failed",
			zap.String("chat_id", chatID), zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt < maxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return fmt.Errorf("send to %s abandoned after %d attempts: %w", chatID, maxAttempts, lastErr)
}

func (c *Client) answerCallback(ctx context.Context, callbackID, text string) error {
	var resp apiResponse
	return c.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	}, &resp)
}

// InlineKeyboard mirrors the Bot API reply_markup structure.
type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}
