package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	kit "proxywatch/internal/transport"
)

// DefaultFilePath is used when file logging is enabled without a path.
const DefaultFilePath = "./proxywatch.log"

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	Username   string // "@channel", used when ChatID is 0
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

func (c FileConfig) path() string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return p
	}
	return DefaultFilePath
}

// Service owns the log sinks. Loggers handed out by New keep working across
// Apply; they always resolve the current sink set.
type Service struct {
	mu   sync.RWMutex
	zl   zerolog.Logger
	cfg  Config
	file *os.File
	path string
	tg   *telegramSink
}

// New builds the sinks described by cfg. A file that cannot be opened is
// reported on stderr and skipped; the console keeps working. adapter may be
// nil, which disables the Telegram sink.
func New(cfg Config, adapter kit.Adapter) (*Service, Logger) {
	s := &Service{}
	if adapter != nil {
		s.tg = newTelegramSink(adapter)
	}
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintln(Stderr(), "logx:", err)
	}
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zl
}

// FilePath is the path of the open log file, or "" when file logging is off.
func (s *Service) FilePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil {
		return ""
	}
	return s.path
}

// TelegramDropped counts records the Telegram sink discarded.
func (s *Service) TelegramDropped() uint64 {
	if s.tg == nil {
		return 0
	}
	return s.tg.dropped.Load()
}

// Apply swaps the sink set for cfg. The log file is reopened only when its
// path changes. On a file error the remaining sinks are still applied.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fileErr error
	want := ""
	if cfg.File.Enabled {
		want = cfg.File.path()
	}
	if want != s.path || (want != "" && s.file == nil) {
		s.closeFileLocked()
		if want != "" {
			f, err := openLogFile(want)
			if err != nil {
				fileErr = fmt.Errorf("open log file %s: %w", want, err)
			} else {
				s.file = f
			}
		}
		s.path = want
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stdout()))
	}
	if s.file != nil {
		writers = append(writers, s.file)
	}
	if s.tg != nil {
		s.tg.configure(cfg.Telegram)
		if cfg.Telegram.Enabled && (cfg.Telegram.ChatID != 0 || cfg.Telegram.Username != "") {
			writers = append(writers, s.tg)
		}
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}
	s.zl = zerolog.New(w).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.cfg = cfg
	return fileErr
}

func (s *Service) closeFileLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Close stops the Telegram sink and closes the log file. Loggers keep
// working afterwards but only reach the console.
func (s *Service) Close() error {
	if s.tg != nil {
		s.tg.close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.closeFileLocked()
	s.path = ""
	if s.cfg.Console {
		s.zl = zerolog.New(newConsoleWriter(Stdout())).Level(s.zl.GetLevel()).With().Timestamp().Logger()
	} else {
		s.zl = zerolog.Nop()
	}
	return err
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
