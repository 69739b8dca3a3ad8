package notifier

import (
	"time"

	kit "proxywatch/internal/transport"
)

// Config controls delivery to the single destination chat.
type Config struct {
	Target     kit.ChatTarget
	RatePerSec int
	// Timeout bounds one send call. 0 means 10s.
	Timeout time.Duration
}

// Options are per-message delivery flags.
type Options struct {
	// Source names the producer (loop name, "report", "router") for history
	// and metrics.
	Source string
	HTML   bool
	Silent bool
}

type HistoryItem struct {
	At     time.Time
	Source string
	Text   string
}

// NotificationEvent is the Data of notifier.sent and notifier.failed events.
type NotificationEvent struct {
	ID     string        `json:"id"`
	Source string        `json:"source"`
	ChatID int64         `json:"chat_id"`
	At     time.Time     `json:"at"`
	Took   time.Duration `json:"took"`
	Error  string        `json:"error,omitempty"`
}
