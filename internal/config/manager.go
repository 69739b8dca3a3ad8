package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	logx "proxywatch/pkg/logx"
)

const validateTimeout = 5 * time.Second

// ConfigManager holds the committed configuration and hands reloaded
// versions to subscribers.
type ConfigManager struct {
	path   string
	lookup LookupFunc
	log    logx.Logger
	check  func(ctx context.Context, cfg *Config) error

	mu     sync.RWMutex
	cfg    *Config
	digest [sha256.Size]byte

	subMu sync.Mutex
	subs  []chan *Config
}

// NewConfigManager reads from path, or from the environment alone when
// path is empty.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: strings.TrimSpace(path), lookup: os.LookupEnv, log: logx.Nop()}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetLookup replaces the environment source.
func (m *ConfigManager) SetLookup(fn LookupFunc) {
	if fn != nil {
		m.lookup = fn
	}
}

// SetValidator adds a check a reloaded config must pass, after Validate,
// before it is committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.check = fn
}

// Parse builds a config from the file and the environment and validates it.
// It does not commit.
func (m *ConfigManager) Parse() (*Config, error) {
	cfg := &Config{}
	if m.path != "" {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			return nil, err
		}
		if cfg, err = decodeFile(m.path, raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", m.path, err)
		}
	}
	if err := ApplyEnv(cfg, m.lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile rejects unknown keys and trailing documents.
func decodeFile(path string, raw []byte) (*Config, error) {
	if isYAML(path) {
		var err error
		if raw, err = yamlToJSON(raw); err != nil {
			return nil, err
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Config{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return &cfg, nil
	case err == nil:
		return nil, errors.New("trailing data after config object")
	default:
		return nil, err
	}
}

func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	d := digestOf(cfg)
	m.mu.Lock()
	m.cfg, m.digest = cfg, d
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) sameAsCommitted(d [sha256.Size]byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg != nil && d == m.digest
}

func digestOf(cfg *Config) [sha256.Size]byte {
	b, _ := json.Marshal(cfg)
	return sha256.Sum256(b)
}

// Subscribe returns a channel receiving every committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if i := slices.Index(m.subs, ch); i >= 0 {
		m.subs = slices.Delete(m.subs, i, i+1)
		close(ch)
	}
}

// publish never blocks. A subscriber with a full buffer has its oldest
// pending config replaced, so the newest one always gets through.
func (m *ConfigManager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		for range 2 {
			select {
			case ch <- cfg:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload re-parses the file and commits it if it differs from the current
// config and passes validation. It reports whether subscribers were told.
func (m *ConfigManager) reload(ctx context.Context) bool {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		return false
	}
	if m.sameAsCommitted(digestOf(cfg)) {
		m.log.Debug("config file touched without changes", logx.String("path", m.path))
		return false
	}
	if m.check != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err = m.check(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
			return false
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	return true
}
