// Package notify fans engine alerts out to operator channels (Telegram,
// Discord). Each channel receives a typed Notification carrying the alert's
// severity and market context, so it can render severity its own way; an
// event filter keeps routine alert codes out of the channels operators asked
// to keep quiet.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Notification is the typed payload delivered to every channel.
type Notification struct {
	// Event is the alert code, used for filtering (e.g. "daily_loss_halt").
	Event    string
	Level    domain.AlertLevel
	Title    string
	Message  string
	MarketID string
	At       time.Time
}

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers one notification to the channel.
	Send(ctx context.Context, n Notification) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a set
// of allowed event types; Notify only forwards notifications whose event is in
// the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if its event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	// If specific events were configured, filter.
	if len(n.events) > 0 && !n.events[note.Event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", note.Event),
		)
		return nil
	}

	return n.dispatch(ctx, note)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, note Notification) error {
	return n.dispatch(ctx, note)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, note Notification) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", note.Title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
