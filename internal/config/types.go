package config

import "time"

// Config is the whole bot configuration. Secrets may be left empty in the
// file and supplied through the environment (see ApplyEnv).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	API      APIConfig      `json:"api"`
	Monitors MonitorsConfig `json:"monitors"`
	Notifier NotifierConfig `json:"notifier"`
	Report   ReportConfig   `json:"report"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Ops      OpsConfig      `json:"ops"`

	// retryPeriod comes from RETRY_PERIOD and beats every file interval.
	retryPeriod time.Duration
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// ChatID is the fixed destination for every alert. Kept as a string so
	// it can come verbatim from TG_CHAT.
	ChatID       string  `json:"chat_id,omitempty"`
	ThreadID     int     `json:"thread_id,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// StartupMessage disables the "ready" message when set to false.
	StartupMessage *bool `json:"startup_message,omitempty"`
}

// APIConfig describes the device-status endpoint.
//
// Defaults:
//   - endpoint: DefaultEndpoint
//   - auth_scheme: "Bearer" (set "" to send the raw token, as iProxy expects)
//   - timeout: "15s"
//   - max_body_bytes: 4 MiB
type APIConfig struct {
	Endpoint     string  `json:"endpoint,omitempty"`
	Token        string  `json:"token,omitempty"`
	AuthScheme   *string `json:"auth_scheme,omitempty"`
	Timeout      string  `json:"timeout,omitempty"`
	MaxBodyBytes int64   `json:"max_body_bytes,omitempty"`
}

// MonitorsConfig holds the default retry period and the per-loop settings.
type MonitorsConfig struct {
	// Interval is the default retry period for every loop (Go duration, default "30m").
	Interval string        `json:"interval,omitempty"`
	Devices  MonitorConfig `json:"check_devices"`
	Rotation MonitorConfig `json:"check_rotation"`
}

type MonitorConfig struct {
	// Interval overrides MonitorsConfig.Interval for this loop.
	Interval  string `json:"interval,omitempty"`
	Autostart bool   `json:"autostart,omitempty"`
	// Silent sends this loop's alerts without a notification sound.
	Silent bool `json:"silent,omitempty"`
}

type NotifierConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// Timeout bounds a single send (Go duration, default "10s").
	Timeout string `json:"timeout,omitempty"`
}

// ReportConfig enables a scheduled status report.
//
// Example:
//
//	"report": { "schedule": "0 9 * * *", "timezone": "Europe/Moscow" }
type ReportConfig struct {
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level     string          `json:"level"`
	Console   bool            `json:"console"`
	File      LoggingFile     `json:"file"`
	Telegram  LoggingTelegram `json:"telegram"`
	TailLines int             `json:"tail_lines,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional alert history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/proxywatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OpsConfig controls the optional metrics/pprof HTTP server.
//
// Prefer binding to localhost. A non-loopback address requires a token or
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9308"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
