package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TelegramSender delivers notifications and editable status messages via
// the Telegram Bot API.
type TelegramSender struct {
	token   string
	chatID  int64
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// default chat ID. It uses a default HTTP client with a 10-second timeout.
func NewTelegramSender(token string, chatID int64) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a message to the default chat using the sendMessage API.
// The title is rendered in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	_, err := t.SendMessage(ctx, t.chatID, fmt.Sprintf("*%s*\n%s", title, message))
	return err
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

// SendMessage posts text to a chat and returns the message ID, which can
// later be passed to EditMessage.
func (t *TelegramSender) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := t.call(ctx, "sendMessage", payload)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("telegram: decode sendMessage response: %w", err)
	}
	return resp.Result.MessageID, nil
}

// EditMessage replaces the text of a previously sent message.
func (t *TelegramSender) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	_, err := t.call(ctx, "editMessageText", payload)
	return err
}

// call posts a JSON payload to a Bot API method and returns the response
// body.
func (t *TelegramSender) call(ctx context.Context, method string, payload map[string]any) ([]byte, error) {
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telegram: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram: %s: unexpected status %d: %s", method, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
