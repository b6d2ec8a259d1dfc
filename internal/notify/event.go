package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// NotifyEvent renders an engine event and dispatches it, honoring the
// configured event filter. Events with nothing worth alerting on (such as
// trade_started, which the finished event supersedes) are silently skipped.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	title, message, ok := FormatEvent(ev)
	if !ok {
		return nil
	}
	return n.Notify(ctx, string(ev.Type), title, message)
}

// FormatEvent renders an engine event as a notification title and body.
// ok is false for event types that do not map to an alert.
func FormatEvent(ev domain.Event) (title, message string, ok bool) {
	switch ev.Type {
	case domain.EventOpportunityFound:
		if ev.Opportunity == nil {
			return "", "", false
		}
		o := ev.Opportunity
		title = "Opportunity: " + o.Symbol
		message = fmt.Sprintf("buy %s @ %.4f, sell %s @ %.4f\nexpected net %+.2f %s",
			o.BuyExchange, o.BuyPrice, o.SellExchange, o.SellPrice, o.NetQuote, o.Quote())
		return title, message, true

	case domain.EventTradeFinished:
		if ev.Attempt == nil {
			return "", "", false
		}
		return formatAttempt(ev.Attempt)

	case domain.EventStatusChange:
		title = "Engine " + string(ev.Status)
		return title, "status changed to " + string(ev.Status), true

	case domain.EventError:
		if ev.Err == "" {
			return "", "", false
		}
		return "Engine error", ev.Err, true
	}
	return "", "", false
}

func formatAttempt(a *domain.TradeAttempt) (string, string, bool) {
	o := a.Opportunity
	title := fmt.Sprintf("%s: %s", attemptHeadline(a.State), o.Symbol)

	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s, amount %.6f %s\n",
		o.BuyExchange, o.SellExchange, o.Amount, o.Base())
	fmt.Fprintf(&b, "net %+.2f %s, fees %.2f, fill %.0f%%, %dms",
		a.NetQuote, o.Quote(), a.FeesQuote, a.FillRatio*100, a.LatencyMs)
	if a.Reason != "" {
		fmt.Fprintf(&b, "\nreason: %s", a.Reason)
	}
	return title, b.String(), true
}

func attemptHeadline(state domain.AttemptState) string {
	switch state {
	case domain.AttemptSuccess:
		return "Trade executed"
	case domain.AttemptPartial:
		return "Partial trade"
	case domain.AttemptFailed:
		return "Trade failed"
	case domain.AttemptCanceled:
		return "Trade canceled"
	case domain.AttemptRejected:
		return "Trade rejected"
	case domain.AttemptStuck:
		return "Manual intervention required"
	}
	return "Trade " + string(state)
}
