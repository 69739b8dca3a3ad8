package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
	// MaxAlerts bounds the alerts table; older rows are pruned. 0 means 10000.
	MaxAlerts int
}

// AlertEntry records one notification attempt.
type AlertEntry struct {
	ID     string
	At     time.Time
	Source string // loop name, "report", "router" ...
	ChatID int64
	Text   string
	OK     bool
	Error  string
}

// AuditEntry records an operator command.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	Command       string
	Args          string
	OK            bool
	Error         string
	TookMS        int64
}
