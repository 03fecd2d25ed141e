package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name string
	sent []Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func note(event, title string) Notification {
	return Notification{Event: event, Level: domain.AlertWarning, Title: title, Message: "m"}
}

func TestNotifyFiltersByEvent(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{name: "telegram"}
	n := NewNotifier([]Sender{sender}, []string{"emergency_stop", "daily_loss_halt"}, testLogger())

	require.NoError(t, n.Notify(ctx, note("emergency_stop", "halted")))
	require.NoError(t, n.Notify(ctx, note("exposure_warning", "near cap")))

	// Only the allowed event reached the sender.
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "halted", sender.sent[0].Title)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(ctx, note("anything", "a")))
	assert.Len(t, sender.sent, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{name: "telegram"}
	n := NewNotifier([]Sender{sender}, []string{"daily_loss_halt"}, testLogger())

	require.NoError(t, n.NotifyAll(ctx, note("unlisted", "critical")))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "critical", sender.sent[0].Title)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	ctx := context.Background()
	failing := &recordingSender{name: "telegram", err: errors.New("api down")}
	working := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{failing, working}, nil, testLogger())

	err := n.Notify(ctx, note("any", "title"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")

	// The healthy sender still got the message.
	assert.Len(t, working.sent, 1)
}

func TestNotifierNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	require.NoError(t, n.Notify(context.Background(), note("any", "t")))
}

// TestAlertRoutesBySeverity verifies alerts become typed notifications, the
// event filter applies to routine alerts, and critical ones always go out.
func TestAlertRoutesBySeverity(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{name: "telegram"}
	n := NewNotifier([]Sender{sender}, []string{"daily_loss_halt"}, testLogger())

	at := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	// A warning outside the filter is dropped.
	require.NoError(t, n.Alert(ctx, domain.Alert{
		Level:     domain.AlertWarning,
		Code:      "exposure_warning",
		Message:   "near cap",
		CreatedAt: at,
	}))
	assert.Empty(t, sender.sent)

	// A critical alert bypasses the filter and carries its context typed.
	require.NoError(t, n.Alert(ctx, domain.Alert{
		Level:     domain.AlertCritical,
		Code:      "emergency_stop",
		Message:   "engine emergency stopped: daily loss limit breached",
		MarketID:  "MKT-A",
		Detail:    map[string]any{"loss": -510.0},
		CreatedAt: at,
	}))
	require.Len(t, sender.sent, 1)

	got := sender.sent[0]
	assert.Equal(t, "emergency_stop", got.Event)
	assert.Equal(t, domain.AlertCritical, got.Level)
	assert.Equal(t, "emergency stop", got.Title)
	assert.Equal(t, "MKT-A", got.MarketID)
	assert.Equal(t, at, got.At)
	assert.Contains(t, got.Message, "daily loss limit breached")
	assert.Contains(t, got.Message, "loss: -510")
}

// TestTelegramRenderText verifies the markdown layout: severity marker, bold
// title, then market and timestamp trailers.
func TestTelegramRenderText(t *testing.T) {
	s := NewTelegramSender("token", "chat")

	text := s.renderText(Notification{
		Event:    "stop_loss_triggered",
		Level:    domain.AlertCritical,
		Title:    "stop loss triggered",
		Message:  "position through stop",
		MarketID: "MKT-A",
		At:       time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC),
	})

	assert.Contains(t, text, telegramMarkers[domain.AlertCritical])
	assert.Contains(t, text, "*stop loss triggered*")
	assert.Contains(t, text, "market: MKT-A")
	assert.Contains(t, text, "at: 2026-08-21 12:00:00 UTC")
}

// TestDiscordRenderEmbed verifies severity maps to the embed color and the
// market rides as an inline field.
func TestDiscordRenderEmbed(t *testing.T) {
	s := NewDiscordSender("https://example.invalid/webhook")

	embed := s.renderEmbed(Notification{
		Event:    "daily_loss_halt",
		Level:    domain.AlertWarning,
		Title:    "daily loss warning",
		Message:  "approaching limit",
		MarketID: "MKT-B",
		At:       time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, "daily loss warning", embed.Title)
	assert.Equal(t, discordColors[domain.AlertWarning], embed.Color)
	assert.Equal(t, "2026-08-21T12:00:00Z", embed.Timestamp)
	require.Len(t, embed.Fields, 1)
	assert.Equal(t, "market", embed.Fields[0].Name)
	assert.Equal(t, "MKT-B", embed.Fields[0].Value)

	// No severity entry means no accent color rather than a wrong one.
	plain := s.renderEmbed(Notification{Title: "t", Message: "m"})
	assert.Zero(t, plain.Color)
	assert.Empty(t, plain.Timestamp)
	assert.Empty(t, plain.Fields)
}
