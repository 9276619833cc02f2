package domain

import (
	"fmt"
	"time"
)

// Label returns the human-readable name of a notification type.
func (t NotificationType) Label() string {
	switch t {
	case TypeSignal:
		return "Trading signal"
	case TypeEvent:
		return "Event"
	case TypeAnnouncement:
		return "Announcement"
	case TypeSystem:
		return "System"
	default:
		return string(t)
	}
}

// RelativeTime renders t relative to now the way notification lists show it.
func RelativeTime(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	case now.Year() == t.Year():
		return t.Format("Jan 2")
	default:
		return t.Format("Jan 2, 2006")
	}
}

// Pair returns the trading pair carried in a signal's metadata, if any.
func (n *Notification) Pair() (string, bool) {
	if n.Metadata == nil {
		return "", false
	}
	pair, ok := n.Metadata["pair"].(string)
	return pair, ok && pair != ""
}
