package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// discordColors maps alert severity to the embed accent color.
var discordColors = map[domain.AlertLevel]int{
	domain.AlertInfo:     0x3498db, // blue
	domain.AlertWarning:  0xe67e22, // orange
	domain.AlertCritical: 0xe74c3c, // red
}

// discordEmbed is the subset of Discord's embed object the sender uses.
type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification to the Discord webhook as a severity-colored
// embed.
func (d *DiscordSender) Send(ctx context.Context, n Notification) error {
	payload := map[string]any{
		"embeds": []discordEmbed{d.renderEmbed(n)},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// renderEmbed maps the notification onto a Discord embed, with the severity
// carried by the accent color and the market as an inline field.
func (d *DiscordSender) renderEmbed(n Notification) discordEmbed {
	embed := discordEmbed{
		Title:       n.Title,
		Description: n.Message,
		Color:       discordColors[n.Level],
	}
	if !n.At.IsZero() {
		embed.Timestamp = n.At.UTC().Format(time.RFC3339)
	}
	if n.MarketID != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   "market",
			Value:  n.MarketID,
			Inline: true,
		})
	}
	return embed
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
