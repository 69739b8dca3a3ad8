package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"proxywatch/internal/config"
)

func loadExample(t *testing.T) *config.Config {
	t.Helper()
	return loadExampleChat(t, "-1001234")
}

func loadExampleChat(t *testing.T, chat string) *config.Config {
	t.Helper()
	m := config.NewConfigManager("../../config.example.yaml")
	env := map[string]string{
		config.EnvAPIToken:      "ip-secret",
		config.EnvTelegramToken: "tg-secret",
		config.EnvTelegramChat:  chat,
	}
	m.SetLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	return cfg
}

func TestExampleConfigMapping(t *testing.T) {
	cfg := loadExample(t)

	api := mapAPIConfig(cfg)
	if api.AuthScheme != "" || api.Token != "ip-secret" || api.Timeout != 15*time.Second {
		t.Fatalf("api config = %+v", api)
	}

	n := mapNotifierConfig(cfg)
	if n.Target.ChatID != -1001234 || n.RatePerSec != 1 || n.Timeout != 10*time.Second {
		t.Fatalf("notifier config = %+v", n)
	}

	r := mapRouterConfig(cfg)
	if r.Chat != n.Target || len(r.Owners) != 1 || r.TailLines != 10 {
		t.Fatalf("router config = %+v", r)
	}

	rep := mapReportConfig(cfg)
	if rep.Schedule != "0 9 * * *" || rep.Timezone != "UTC" || rep.Timeout != 25*time.Second {
		t.Fatalf("report config = %+v", rep)
	}

	sc, ok := mapStorageConfig(cfg)
	if !ok || sc.Driver != "sqlite" || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("storage config = %+v ok=%v", sc, ok)
	}

	if o := mapOpsConfig(cfg); o.Enabled || o.Addr != "127.0.0.1:9308" {
		t.Fatalf("ops config = %+v", o)
	}

	lc := mapLogConfig(cfg)
	if lc.Telegram.ChatID != -1001234 || !lc.File.Enabled {
		t.Fatalf("log config = %+v", lc)
	}
}

func TestExampleLoopIntervals(t *testing.T) {
	cfg := loadExample(t)
	if got := cfg.MonitorInterval(config.MonitorDevices); got != 30*time.Minute {
		t.Fatalf("devices interval = %v", got)
	}
	if got := cfg.MonitorInterval(config.MonitorRotation); got != time.Hour {
		t.Fatalf("rotation interval = %v", got)
	}
	if mc, _ := cfg.Monitor(config.MonitorDevices); !mc.Autostart {
		t.Fatalf("devices autostart not set")
	}
}

func TestStorageDisabledWithoutDriver(t *testing.T) {
	cfg := &config.Config{}
	if _, ok := mapStorageConfig(cfg); ok {
		t.Fatalf("storage mapped without config")
	}
}

func TestChannelDestinationMapping(t *testing.T) {
	cfg := loadExampleChat(t, "@proxy_alerts")
	n := mapNotifierConfig(cfg)
	if n.Target.ChatID != 0 || n.Target.Username != "@proxy_alerts" || n.Target.IsZero() {
		t.Fatalf("notifier target = %+v", n.Target)
	}
	if r := mapRouterConfig(cfg); r.Chat != n.Target {
		t.Fatalf("router chat = %+v", r.Chat)
	}
	if lc := mapLogConfig(cfg); lc.Telegram.Username != "@proxy_alerts" {
		t.Fatalf("log telegram = %+v", lc.Telegram)
	}
}

func TestCheckReload(t *testing.T) {
	cfg := loadExample(t)
	if err := checkReload(context.Background(), cfg); err != nil {
		t.Fatalf("example config rejected: %v", err)
	}

	bad := *cfg
	bad.API.Endpoint = "ftp://api.example.com/connections"
	if err := checkReload(context.Background(), &bad); err == nil {
		t.Fatalf("non-http endpoint should be rejected")
	}
}

func TestConfigManagerRejectsReloadFailingCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(endpoint string) {
		t.Helper()
		body := "api:\n  endpoint: \"" + endpoint + "\"\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("https://api.example.com/v1/connections")

	m := config.NewConfigManager(path)
	m.SetLookup(func(k string) (string, bool) {
		v, ok := map[string]string{
			config.EnvAPIToken:      "ip-secret",
			config.EnvTelegramToken: "tg-secret",
			config.EnvTelegramChat:  "-1001234",
		}[k]
		return v, ok
	})
	m.SetValidator(checkReload)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	write("ftp://api.example.com/v1/connections")

	select {
	case cfg := <-sub:
		t.Fatalf("rejected config was published: %q", cfg.APIEndpoint())
	case <-time.After(time.Second):
	}
	if got := m.Get().APIEndpoint(); got != "https://api.example.com/v1/connections" {
		t.Fatalf("committed endpoint = %q", got)
	}
}
