package config

import (
	"reflect"
	"strings"

	logx "proxywatch/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens are never included; only whether
// they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.ChatID) != strings.TrimSpace(newCfg.Telegram.ChatID) ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.API, newCfg.API) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.String("api.endpoint", newCfg.APIEndpoint()),
			logx.Bool("api.token_changed", oldCfg.API.Token != newCfg.API.Token),
		)
	}

	if oldCfg.Monitors != newCfg.Monitors {
		changed = append(changed, "monitors")
		attrs = append(attrs,
			logx.Duration("monitors.check_devices", newCfg.MonitorInterval(MonitorDevices)),
			logx.Duration("monitors.check_rotation", newCfg.MonitorInterval(MonitorRotation)),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Int("notifier.rate_per_sec", newCfg.NotifyRate()))
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs, logx.String("report.schedule", newCfg.Report.Schedule))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.Bool("storage.enabled", newCfg.StorageEnabled()))
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.OpsAddr()),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	return changed, attrs
}
