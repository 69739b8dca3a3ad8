package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that carry secrets and the interval override.
const (
	EnvAPIToken      = "IP_TOKEN"
	EnvTelegramToken = "TG_TOKEN"
	EnvTelegramChat  = "TG_CHAT"
	// EnvRetryPeriod is the retry period of every loop in whole minutes. It
	// overrides monitors.interval and monitors.<name>.interval.
	EnvRetryPeriod = "RETRY_PERIOD"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays secrets and the interval override from the environment.
// Non-empty variables win over values from the config file.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvAPIToken); ok {
		cfg.API.Token = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChat); ok {
		cfg.Telegram.ChatID = v
	}
	if v, ok := get(EnvRetryPeriod); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: must be a positive number of minutes, got %q", EnvRetryPeriod, v)
		}
		cfg.retryPeriod = time.Duration(n) * time.Minute
	}
	return nil
}
