// Package notification delivers operational audit events — ledger
// bootstraps, destructive resets, fills that failed to commit — to an
// external channel so a human sees them without tailing logs.
package notification

import (
	"context"
	"log"
)

// Severity classifies an event for the receiving channel.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one audit notification.
type Event struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"` // e.g. "bootstrap", "reset", "fill_not_committed"
	Session  string   `json:"session"`
	Detail   string   `json:"detail"`
}

// Notifier delivers events. Implementations must be safe for concurrent
// use and must never block the caller for long: delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Multi fans one event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}

// LogNotifier writes events to the process log. Used as the fallback when
// no webhook is configured, so audit events are never silently dropped.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) {
	log.Printf("[notify] %s %s session=%s: %s", ev.Severity, ev.Kind, ev.Session, ev.Detail)
}
