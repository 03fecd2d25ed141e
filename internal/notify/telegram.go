package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// telegramMarkers maps alert severity to the marker prefixed to the title so
// operators can triage from the chat list alone.
var telegramMarkers = map[domain.AlertLevel]string{
	domain.AlertInfo:     "ℹ️",
	domain.AlertWarning:  "⚠️",
	domain.AlertCritical: "🚨",
}

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. It uses a default HTTP client with a 10-second timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification to the configured Telegram chat using the
// sendMessage API.
func (t *TelegramSender) Send(ctx context.Context, n Notification) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       t.renderText(n),
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

// renderText lays the notification out as Telegram markdown: severity marker
// and bold title, body, then market and timestamp trailers.
func (t *TelegramSender) renderText(n Notification) string {
	var b strings.Builder
	if marker, ok := telegramMarkers[n.Level]; ok {
		b.WriteString(marker)
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "*%s*\n%s", n.Title, n.Message)
	if n.MarketID != "" {
		fmt.Fprintf(&b, "\nmarket: %s", n.MarketID)
	}
	if !n.At.IsZero() {
		fmt.Fprintf(&b, "\nat: %s", n.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
