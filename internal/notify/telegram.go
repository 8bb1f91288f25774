package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	api    string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. It uses a default HTTP client with a 10-second timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		api:    telegramAPI,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification to the configured chat through the sendMessage
// endpoint. The title is rendered bold in HTML parse mode; both parts are
// escaped so free-form order errors cannot break the markup.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("parse_mode", "HTML")
	form.Set("text", fmt.Sprintf("<b>%s</b>\n%s", htmlEscape(title), htmlEscape(message)))

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.api, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

// htmlEscape covers the characters Telegram's HTML parse mode requires to be
// entity-encoded.
func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

var _ Sender = (*TelegramSender)(nil)
