package app

import (
	"strings"

	"proxywatch/internal/config"
	"proxywatch/internal/deviceapi"
	"proxywatch/internal/notifier"
	"proxywatch/internal/observability/ops"
	"proxywatch/internal/report"
	"proxywatch/internal/router"
	"proxywatch/internal/storage"
	kit "proxywatch/internal/transport"
	logx "proxywatch/pkg/logx"
)

// configs are mapped from a validated *config.Config; parse errors were
// already reported by Validate.

func destination(cfg *config.Config) kit.ChatTarget {
	return kit.ChatTarget{ChatID: cfg.ChatID(), Username: cfg.ChatUsername(), ThreadID: cfg.Telegram.ThreadID}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.ChatID(),
			Username:   cfg.ChatUsername(),
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAPIConfig(cfg *config.Config) deviceapi.Config {
	return deviceapi.Config{
		Endpoint:     cfg.APIEndpoint(),
		Token:        cfg.API.Token,
		AuthScheme:   cfg.APIAuthScheme(),
		Timeout:      cfg.APITimeout(),
		MaxBodyBytes: cfg.APIMaxBodyBytes(),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Target:     destination(cfg),
		RatePerSec: cfg.NotifyRate(),
		Timeout:    cfg.SendTimeout(),
	}
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{
		Chat:      destination(cfg),
		Owners:    cfg.Telegram.OwnerUserIDs,
		TailLines: cfg.TailLines(),
	}
}

func mapReportConfig(cfg *config.Config) report.Config {
	return report.Config{
		Schedule: cfg.Report.Schedule,
		Timezone: cfg.Report.Timezone,
		Timeout:  cfg.APITimeout() + cfg.SendTimeout(),
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.OpsAddr(),
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	if !cfg.StorageEnabled() {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.StorageBusyTimeout(),
	}, true
}
