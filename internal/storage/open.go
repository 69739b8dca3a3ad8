package storage

import (
	"context"
	"errors"
	"strings"

	logx "proxywatch/pkg/logx"
)

// Store is the persistence API used by the notifier and the router.
// Diff state is never stored here.
type Store interface {
	AppendAlert(ctx context.Context, e AlertEntry) error
	RecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	switch driver {
	case "sqlite", "sqlite3":
		st, err := openSQLite(context.Background(), cfg, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
