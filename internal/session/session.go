// Package session derives the trading-session identifier that scopes
// ledger state, persisted positions, and journal entries.
package session

import "time"

// Layout is the on-disk session ID format: one session per UTC day.
const Layout = "2006-01-02"

// Current returns the session ID for the current UTC day.
func Current() string {
	return ForTime(time.Now())
}

// ForTime returns the session ID containing t.
func ForTime(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse converts a session ID back to its UTC day start.
func Parse(id string) (time.Time, error) {
	return time.ParseInLocation(Layout, id, time.UTC)
}
