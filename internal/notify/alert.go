package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Alert converts one engine alert into a Notification and dispatches it. The
// alert's code is the event type used for filtering; critical alerts bypass
// the filter entirely so halts and emergency stops always reach operators.
func (n *Notifier) Alert(ctx context.Context, a domain.Alert) error {
	note := Notification{
		Event:    a.Code,
		Level:    a.Level,
		Title:    strings.ReplaceAll(a.Code, "_", " "),
		Message:  formatAlert(a),
		MarketID: a.MarketID,
		At:       a.CreatedAt,
	}

	if a.Level == domain.AlertCritical {
		return n.NotifyAll(ctx, note)
	}
	return n.Notify(ctx, note)
}

// formatAlert renders the alert message with its structured detail appended in
// stable key order.
func formatAlert(a domain.Alert) string {
	var b strings.Builder
	b.WriteString(a.Message)

	if len(a.Detail) > 0 {
		keys := make([]string, 0, len(a.Detail))
		for k := range a.Detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %v", k, a.Detail[k])
		}
	}

	return b.String()
}
