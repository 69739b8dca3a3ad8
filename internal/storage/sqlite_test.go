package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "proxywatch/pkg/logx"
)

func openTest(t *testing.T, maxAlerts int) *sqliteStore {
	t.Helper()
	st, err := openSQLite(context.Background(), Config{
		Driver:    "sqlite",
		Path:      filepath.Join(t.TempDir(), "db", "test.db"),
		MaxAlerts: maxAlerts,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: got (%v, %v), want (nil, nil)", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mysql"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver should fail")
	}
}

func TestAlertsRoundTripNewestFirst(t *testing.T) {
	st := openTest(t, 0)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 3; i++ {
		e := AlertEntry{At: base.Add(time.Duration(i) * time.Second), Source: "check_devices", ChatID: 42, Text: fmt.Sprintf("alert %d", i), OK: i != 1}
		if i == 1 {
			e.Error = "send failed"
		}
		if err := st.AppendAlert(ctx, e); err != nil {
			t.Fatalf("AppendAlert: %v", err)
		}
	}

	got, err := st.RecentAlerts(ctx, 2)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d alerts, want 2", len(got))
	}
	if got[0].Text != "alert 2" || got[1].Text != "alert 1" {
		t.Fatalf("order = %q, %q", got[0].Text, got[1].Text)
	}
	if got[1].OK || got[1].Error != "send failed" {
		t.Fatalf("failed alert not preserved: %+v", got[1])
	}
	if got[0].ID == "" || !got[0].At.Equal(base.Add(2*time.Second)) {
		t.Fatalf("id/time not preserved: %+v", got[0])
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	st := openTest(t, 2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := st.AppendAlert(ctx, AlertEntry{Source: "x", Text: fmt.Sprint(i), OK: true}); err != nil {
			t.Fatalf("AppendAlert: %v", err)
		}
	}
	if err := st.pruneAlerts(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	got, err := st.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 || got[0].Text != "4" || got[1].Text != "3" {
		t.Fatalf("after prune: %+v", got)
	}
}

func TestAppendAudit(t *testing.T) {
	st := openTest(t, 0)
	ctx := context.Background()
	if err := st.AppendAudit(ctx, AuditEntry{ActorID: 7, Command: "start_check", Args: "check_devices 5", OK: true}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	n, err := st.auditCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("audit count = %d, %v", n, err)
	}
}

func TestNilStoreIsDisabled(t *testing.T) {
	var st *sqliteStore
	if err := st.AppendAlert(context.Background(), AlertEntry{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}
