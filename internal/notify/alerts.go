package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Alerter turns engine events into operator notifications. It wraps the
// run's primary EventLog so every event still reaches the log; alert-worthy
// kinds are additionally formatted and pushed through the Notifier.
type Alerter struct {
	next     domain.EventLog
	notifier *Notifier
	runID    string
}

// NewAlerter wraps next with alert dispatch for the given run.
func NewAlerter(next domain.EventLog, notifier *Notifier, runID string) *Alerter {
	return &Alerter{next: next, notifier: notifier, runID: runID}
}

var _ domain.EventLog = (*Alerter)(nil)

// Append forwards the event to the underlying log, then dispatches an alert
// for risk, reconciliation, and failure events. Notification errors are
// swallowed so a flaky webhook never fails a tick.
func (a *Alerter) Append(ctx context.Context, ev domain.Event) error {
	if err := a.next.Append(ctx, ev); err != nil {
		return err
	}

	title, message, ok := a.format(ev)
	if ok {
		_ = a.notifier.Notify(ctx, string(ev.Kind), title, message)
	}
	return nil
}

func (a *Alerter) format(ev domain.Event) (title, message string, ok bool) {
	switch ev.Kind {
	case domain.EventRiskAlert:
		title = fmt.Sprintf("Risk alert (%s)", a.runID)
		message = fmt.Sprintf("overall_score=%s health_factor=%s issues=%s",
			payloadString(ev, "overall_score"),
			payloadString(ev, "health_factor"),
			payloadString(ev, "issues"))
		return title, message, true

	case domain.EventReconciliationBreach:
		title = fmt.Sprintf("PnL reconciliation breach (%s)", a.runID)
		message = fmt.Sprintf("balance_pnl=%s attribution_pnl=%s delta=%s",
			payloadString(ev, "balance_pnl"),
			payloadString(ev, "attribution_pnl"),
			payloadString(ev, "delta"))
		return title, message, true

	case domain.EventRunFailed:
		title = fmt.Sprintf("Run failed (%s)", a.runID)
		var parts []string
		for _, k := range []string{"code", "venue", "asset", "error"} {
			if v := payloadString(ev, k); v != "" {
				parts = append(parts, k+"="+v)
			}
		}
		return title, strings.Join(parts, " "), true
	}

	return "", "", false
}

// payloadString renders a payload field for human consumption, tolerating
// whatever scalar type the engine put there.
func payloadString(ev domain.Event, key string) string {
	v, ok := ev.Payload[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.6f", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
