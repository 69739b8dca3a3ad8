package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "proxywatch/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

const defaultMaxAlerts = 10000

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	maxAlerts  int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	maxAlerts := cfg.MaxAlerts
	if maxAlerts <= 0 {
		maxAlerts = defaultMaxAlerts
	}
	log.Info("storage opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return &sqliteStore{db: db, log: log, maxAlerts: maxAlerts, pruneEvery: 200}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAlert(ctx context.Context, e AlertEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts(id, at_ms, source, chat_id, text, ok, err) VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.At.UnixMilli(), e.Source, e.ChatID, e.Text, boolInt(e.OK), nullStr(e.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneAlerts(pctx); perr != nil {
			s.log.Debug("alert prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *sqliteStore) RecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at_ms, source, chat_id, text, ok, COALESCE(err, '') FROM alerts ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertEntry
	for rows.Next() {
		var (
			e  AlertEntry
			ms int64
			ok int
		)
		if err := rows.Scan(&e.ID, &ms, &e.Source, &e.ChatID, &e.Text, &ok, &e.Error); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms)
		e.OK = ok != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at_ms, actor_id, actor_username, chat_id, command, args, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Command, nullStr(e.Args), boolInt(e.OK), nullStr(e.Error), e.TookMS,
	)
	return err
}

// auditCount is used by tests.
func (s *sqliteStore) auditCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit`).Scan(&n)
	return n, err
}

func (s *sqliteStore) pruneAlerts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE seq <= (SELECT MAX(seq) FROM alerts) - ?`, s.maxAlerts)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
