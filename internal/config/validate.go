package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrMissingSecret is returned by Validate when a required secret is empty.
// It is the only configuration error the process treats as fatal by name.
var ErrMissingSecret = errors.New("missing required secret")

const (
	DefaultEndpoint     = "https://api.iproxy.online/v1/connections?with_statuses=1"
	DefaultAuthScheme   = "Bearer"
	DefaultInterval     = 30 * time.Minute
	DefaultAPITimeout   = 15 * time.Second
	DefaultMaxBodyBytes = 4 << 20
	DefaultPollTimeout  = 10 * time.Second
	DefaultSendTimeout  = 10 * time.Second
	DefaultRatePerSec   = 1
	DefaultTailLines    = 10
	DefaultOpsAddr      = "127.0.0.1:9308"
	DefaultBusyTimeout  = 5 * time.Second
)

// Monitor loop names. They double as command arguments.
const (
	MonitorDevices  = "check_devices"
	MonitorRotation = "check_rotation"
)

// Validate checks required secrets and the syntax of every optional field.
// Missing secrets are reported together and match ErrMissingSecret.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var missing []string
	if strings.TrimSpace(c.API.Token) == "" {
		missing = append(missing, EnvAPIToken)
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		missing = append(missing, EnvTelegramToken)
	}
	if strings.TrimSpace(c.Telegram.ChatID) == "" {
		missing = append(missing, EnvTelegramChat)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSecret, strings.Join(missing, ", "))
	}

	var errs []error
	if _, _, err := parseChat(c.Telegram.ChatID); err != nil {
		errs = append(errs, fmt.Errorf("telegram.chat_id: %w", err))
	}
	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"api.timeout", c.API.Timeout},
		{"monitors.interval", c.Monitors.Interval},
		{"monitors.check_devices.interval", c.Monitors.Devices.Interval},
		{"monitors.check_rotation.interval", c.Monitors.Rotation.Interval},
		{"notifier.timeout", c.Notifier.Timeout},
	}
	if c.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := parseDuration(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.API.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("api.max_body_bytes: must be >= 0"))
	}
	if c.Notifier.RatePerSec < 0 {
		errs = append(errs, errors.New("notifier.rate_per_sec: must be >= 0"))
	}
	if c.Logging.TailLines < 0 {
		errs = append(errs, errors.New("logging.tail_lines: must be >= 0"))
	}
	if s := strings.TrimSpace(c.Report.Schedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs = append(errs, fmt.Errorf("report.schedule: %w", err))
		}
	}
	if tz := strings.TrimSpace(c.Report.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("report.timezone: %w", err))
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
		}
	}
	if c.Ops.Enabled {
		if err := validateOps(c.Ops); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateOps(o OpsConfig) error {
	addr := o.Addr
	if strings.TrimSpace(addr) == "" {
		addr = DefaultOpsAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if o.Token != "" || o.AllowInsecure || isLoopbackHost(host) {
		return nil
	}
	return fmt.Errorf("ops.addr: %q is not loopback; set ops.token or ops.allow_insecure", addr)
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ChatID returns the numeric destination chat id, or 0 when the destination
// is an "@channel" handle. Call only on a validated config.
func (c *Config) ChatID() int64 {
	id, _, _ := parseChat(c.Telegram.ChatID)
	return id
}

// ChatUsername returns the "@channel" destination, or "" for a numeric id.
func (c *Config) ChatUsername() string {
	_, name, _ := parseChat(c.Telegram.ChatID)
	return name
}

// parseChat accepts a numeric chat id or a public "@username" handle of
// 5 to 32 letters, digits and underscores starting with a letter.
func parseChat(raw string) (int64, string, error) {
	s := strings.TrimSpace(raw)
	if name, ok := strings.CutPrefix(s, "@"); ok {
		if !validUsername(name) {
			return 0, "", fmt.Errorf("invalid channel username %q", raw)
		}
		return 0, s, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("want a chat id or @username, got %q", raw)
	}
	return id, "", nil
}

func validUsername(name string) bool {
	if len(name) < 5 || len(name) > 32 {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '_'):
		default:
			return false
		}
	}
	return true
}

// IsOwner reports whether userID is listed in telegram.owner_user_ids.
func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Monitor returns the per-loop settings for name.
func (c *Config) Monitor(name string) (MonitorConfig, bool) {
	switch name {
	case MonitorDevices:
		return c.Monitors.Devices, true
	case MonitorRotation:
		return c.Monitors.Rotation, true
	}
	return MonitorConfig{}, false
}

// MonitorInterval resolves the retry period of a loop: RETRY_PERIOD, then
// the loop's own interval, then monitors.interval, then DefaultInterval.
func (c *Config) MonitorInterval(name string) time.Duration {
	if c.retryPeriod > 0 {
		return c.retryPeriod
	}
	def := durationOr(c.Monitors.Interval, DefaultInterval)
	mc, ok := c.Monitor(name)
	if !ok {
		return def
	}
	return durationOr(mc.Interval, def)
}

func (c *Config) APIEndpoint() string {
	if s := strings.TrimSpace(c.API.Endpoint); s != "" {
		return s
	}
	return DefaultEndpoint
}

func (c *Config) APIAuthScheme() string {
	if c.API.AuthScheme == nil {
		return DefaultAuthScheme
	}
	return strings.TrimSpace(*c.API.AuthScheme)
}

func (c *Config) APITimeout() time.Duration { return durationOr(c.API.Timeout, DefaultAPITimeout) }

func (c *Config) APIMaxBodyBytes() int64 {
	if c.API.MaxBodyBytes > 0 {
		return c.API.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}

func (c *Config) PollTimeout() time.Duration {
	return durationOr(c.Telegram.PollTimeout, DefaultPollTimeout)
}

func (c *Config) SendTimeout() time.Duration {
	return durationOr(c.Notifier.Timeout, DefaultSendTimeout)
}

func (c *Config) NotifyRate() int {
	if c.Notifier.RatePerSec > 0 {
		return c.Notifier.RatePerSec
	}
	return DefaultRatePerSec
}

func (c *Config) TailLines() int {
	if c.Logging.TailLines > 0 {
		return c.Logging.TailLines
	}
	return DefaultTailLines
}

func (c *Config) StartupMessageEnabled() bool {
	return c.Telegram.StartupMessage == nil || *c.Telegram.StartupMessage
}

func (c *Config) OpsAddr() string {
	if s := strings.TrimSpace(c.Ops.Addr); s != "" {
		return s
	}
	return DefaultOpsAddr
}

// StorageEnabled reports whether an alert history store is configured.
func (c *Config) StorageEnabled() bool {
	if c.Storage == nil {
		return false
	}
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	return d == "sqlite" && strings.TrimSpace(c.Storage.Path) != ""
}

func (c *Config) StorageBusyTimeout() time.Duration {
	if c.Storage == nil {
		return DefaultBusyTimeout
	}
	return durationOr(c.Storage.BusyTimeout, DefaultBusyTimeout)
}
