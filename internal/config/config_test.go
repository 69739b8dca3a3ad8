package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "proxywatch/pkg/logx"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func secrets() map[string]string {
	return map[string]string{
		EnvAPIToken:      "api-token",
		EnvTelegramToken: "tg-token",
		EnvTelegramChat:  "-1001234",
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestParseEnvOnly(t *testing.T) {
	m := NewConfigManager("")
	env := secrets()
	env[EnvRetryPeriod] = "5"
	m.SetLookup(envMap(env))

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ChatID() != -1001234 {
		t.Fatalf("chat id = %d", cfg.ChatID())
	}
	if got := cfg.MonitorInterval(MonitorDevices); got != 5*time.Minute {
		t.Fatalf("interval = %v, want 5m", got)
	}
	if cfg.APIEndpoint() != DefaultEndpoint || cfg.APIAuthScheme() != DefaultAuthScheme {
		t.Fatalf("unexpected api defaults: %q %q", cfg.APIEndpoint(), cfg.APIAuthScheme())
	}
}

func TestParseMissingSecret(t *testing.T) {
	m := NewConfigManager("")
	m.SetLookup(envMap(map[string]string{EnvAPIToken: "x"}))

	_, err := m.Parse()
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("err = %v, want ErrMissingSecret", err)
	}
	if !strings.Contains(err.Error(), EnvTelegramToken) || !strings.Contains(err.Error(), EnvTelegramChat) {
		t.Fatalf("err should name missing secrets: %v", err)
	}
}

func TestParseYAMLWithOverrides(t *testing.T) {
	p := writeFile(t, "config.yaml", `
telegram:
  chat_id: "42"
  owner_user_ids: [7]
api:
  auth_scheme: ""
  timeout: 3s
monitors:
  interval: 10m
  check_rotation:
    interval: 2m
    autostart: true
`)
	m := NewConfigManager(p)
	env := secrets()
	delete(env, EnvTelegramChat)
	m.SetLookup(envMap(env))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChatID() != 42 || !cfg.IsOwner(7) || cfg.IsOwner(8) {
		t.Fatalf("telegram section not applied: %+v", cfg.Telegram)
	}
	if cfg.APIAuthScheme() != "" {
		t.Fatalf("auth scheme = %q, want empty", cfg.APIAuthScheme())
	}
	if cfg.APITimeout() != 3*time.Second {
		t.Fatalf("api timeout = %v", cfg.APITimeout())
	}
	if cfg.MonitorInterval(MonitorDevices) != 10*time.Minute || cfg.MonitorInterval(MonitorRotation) != 2*time.Minute {
		t.Fatalf("intervals = %v / %v", cfg.MonitorInterval(MonitorDevices), cfg.MonitorInterval(MonitorRotation))
	}
	if !cfg.Monitors.Rotation.Autostart {
		t.Fatalf("autostart not decoded")
	}
	if m.Get() != cfg {
		t.Fatalf("Load should commit")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"bogus":1}}`)
	m := NewConfigManager(p)
	m.SetLookup(envMap(secrets()))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestValidateFieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"chat id", func(c *Config) { c.Telegram.ChatID = "abc" }, "telegram.chat_id"},
		{"interval", func(c *Config) { c.Monitors.Interval = "soon" }, "monitors.interval"},
		{"cron", func(c *Config) { c.Report.Schedule = "every day" }, "report.schedule"},
		{"storage", func(c *Config) { c.Storage = &StorageConfig{Driver: "mysql"} }, "storage.driver"},
		{"ops", func(c *Config) { c.Ops = OpsConfig{Enabled: true, Addr: "0.0.0.0:9308"} }, "ops.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			if err := ApplyEnv(cfg, envMap(secrets())); err != nil {
				t.Fatalf("ApplyEnv: %v", err)
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
			if errors.Is(err, ErrMissingSecret) {
				t.Fatalf("field error must not match ErrMissingSecret")
			}
		})
	}
}

func TestApplyEnvRejectsBadRetryPeriod(t *testing.T) {
	for _, v := range []string{"0", "-3", "ten"} {
		env := secrets()
		env[EnvRetryPeriod] = v
		if err := ApplyEnv(&Config{}, envMap(env)); err == nil {
			t.Fatalf("RETRY_PERIOD=%q should fail", v)
		}
	}
}

func TestLoadDotEnvMissingFileIsNotError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	m := NewConfigManager("")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("subscriber should hold the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	p := writeFile(t, "config.json", `{"monitors":{"interval":"10m"}}`)
	m := NewConfigManager(p)
	m.SetLookup(envMap(secrets()))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	if m.reload(context.Background()) {
		t.Fatalf("unchanged file should not publish")
	}
	if err := os.WriteFile(p, []byte(`{"monitors":{"interval":"20m"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !m.reload(context.Background()) {
		t.Fatalf("changed file should publish")
	}
	if got := <-ch; got.MonitorInterval(MonitorDevices) != 20*time.Minute {
		t.Fatalf("published interval = %v", got.MonitorInterval(MonitorDevices))
	}

	m.SetValidator(func(ctx context.Context, cfg *Config) error { return errors.New("nope") })
	if err := os.WriteFile(p, []byte(`{"monitors":{"interval":"30m"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.reload(context.Background()) {
		t.Fatalf("validator rejection should not publish")
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{API: APIConfig{Token: "old-secret"}}
	newCfg := &Config{API: APIConfig{Token: "new-secret"}, Ops: OpsConfig{Enabled: true, Token: "ops-secret"}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "api,ops" {
		t.Fatalf("changed = %v", changed)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("summary leaks a secret: %s", buf.String())
	}
}

func TestChannelUsernameDestination(t *testing.T) {
	m := NewConfigManager("")
	env := secrets()
	env[EnvTelegramChat] = "@proxy_alerts"
	m.SetLookup(envMap(env))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChatID() != 0 || cfg.ChatUsername() != "@proxy_alerts" {
		t.Fatalf("destination = %d %q", cfg.ChatID(), cfg.ChatUsername())
	}

	numeric := &Config{}
	if err := ApplyEnv(numeric, envMap(secrets())); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if numeric.ChatID() != -1001234 || numeric.ChatUsername() != "" {
		t.Fatalf("numeric destination = %d %q", numeric.ChatID(), numeric.ChatUsername())
	}

	for _, bad := range []string{"@ab", "@1channel", "@bad-name", "0", "chat"} {
		c := &Config{}
		env := secrets()
		env[EnvTelegramChat] = bad
		if err := ApplyEnv(c, envMap(env)); err != nil {
			t.Fatalf("ApplyEnv: %v", err)
		}
		if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "telegram.chat_id") {
			t.Fatalf("TG_CHAT=%q: err = %v", bad, err)
		}
	}
}

func TestRetryPeriodBeatsFileIntervals(t *testing.T) {
	p := writeFile(t, "config.yaml", `
monitors:
  interval: 10m
  check_rotation:
    interval: 60m
`)
	m := NewConfigManager(p)
	env := secrets()
	env[EnvRetryPeriod] = "7"
	m.SetLookup(envMap(env))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, name := range []string{MonitorDevices, MonitorRotation} {
		if got := cfg.MonitorInterval(name); got != 7*time.Minute {
			t.Fatalf("%s interval = %v, want 7m", name, got)
		}
	}

	m.SetLookup(envMap(secrets()))
	if cfg, err = m.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.MonitorInterval(MonitorRotation); got != time.Hour {
		t.Fatalf("without RETRY_PERIOD rotation interval = %v, want 1h", got)
	}
	if got := cfg.MonitorInterval(MonitorDevices); got != 10*time.Minute {
		t.Fatalf("without RETRY_PERIOD devices interval = %v, want 10m", got)
	}
}
