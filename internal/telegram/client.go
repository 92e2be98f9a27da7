// Package telegram is a thin Bot API client covering the methods the bot
// uses: messaging with inline keyboards, callback answers, and long-poll
// update fetching.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiBase = "https://api.telegram.org/bot"

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    apiBase,
		httpClient: &http.Client{Timeout: 65 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage sends plain text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.sendJSON(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

// SendMarkdown sends MarkdownV2 text with an optional inline keyboard.
// The caller is responsible for escaping dynamic content.
func (c *Client) SendMarkdown(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	}
	if keyboard != nil {
		payload["reply_markup"] = keyboard
	}
	_, err := c.sendJSON(ctx, "sendMessage", payload)
	return err
}

// EditMessageText replaces the text of an existing message. Any inline
// keyboard on the message is dropped unless a new one is supplied.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, keyboard *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if keyboard != nil {
		payload["reply_markup"] = keyboard
	}
	_, err := c.sendJSON(ctx, "editMessageText", payload)
	return err
}

// AnswerCallbackQuery acknowledges a button press. An empty text clears the
// client-side spinner without showing anything.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		payload["text"] = text
	}
	_, err := c.sendJSON(ctx, "answerCallbackQuery", payload)
	return err
}

// GetUpdates long-polls for updates after the given offset. timeoutSec is
// the server-side hold; the HTTP client timeout must exceed it.
func (c *Client) GetUpdates(ctx context.Context, offset, timeoutSec int) ([]Update, error) {
	raw, err := c.sendJSON(ctx, "getUpdates", map[string]any{
		"offset":  offset,
		"timeout": timeoutSec,
	})
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("getUpdates decode: %w", err)
	}
	return updates, nil
}

func (c *Client) sendJSON(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	url := fmt.Sprintf("%s%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, respBody)
	}

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description,omitempty"`
		Result      json.RawMessage `json:"result,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%s decode: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("%s: API returned ok=false: %s", method, result.Description)
	}
	return result.Result, nil
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

// EscapeMarkdownV2 escapes the characters MarkdownV2 reserves so dynamic
// content (subjects, addresses) cannot break the message formatting.
func EscapeMarkdownV2(s string) string {
	return markdownEscaper.Replace(s)
}
