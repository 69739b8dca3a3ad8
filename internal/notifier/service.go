package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"proxywatch/internal/eventbus"
	"proxywatch/internal/storage"
	kit "proxywatch/internal/transport"
	logx "proxywatch/pkg/logx"
)

// ErrDelivery wraps every transport failure returned by Send.
var ErrDelivery = errors.New("notification delivery failed")

const (
	defaultTimeout = 10 * time.Second
	historyMax     = 300
)

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	store   storage.Store

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds the service. bus and store may be nil.
func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		store:   store,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps destination, rate and timeout at runtime.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Target returns the current destination.
func (s *Service) Target() kit.ChatTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Target
}

// Send delivers text to the destination chat. Any failure, including the
// context ending while waiting for the rate limiter, matches ErrDelivery.
func (s *Service) Send(ctx context.Context, text string, opts Options) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.adapter == nil {
		return fmt.Errorf("%w: no transport", ErrDelivery)
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	var parseMode string
	if opts.HTML {
		parseMode = "HTML"
	}
	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	_, err := s.adapter.SendText(callCtx, cfg.Target, text, &kit.SendOptions{
		ParseMode:      parseMode,
		DisablePreview: true,
		Silent:         opts.Silent,
	})
	cancel()

	ev := NotificationEvent{
		ID:     uuid.NewString(),
		Source: opts.Source,
		ChatID: cfg.Target.ChatID,
		At:     started,
		Took:   time.Since(started),
	}
	if err != nil {
		ev.Error = err.Error()
		s.record(ctx, ev, text)
		s.publish(eventbus.TypeNotifyFailed, ev)
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	s.appendHistory(HistoryItem{At: started, Source: opts.Source, Text: text})
	s.record(ctx, ev, text)
	s.publish(eventbus.TypeNotifySent, ev)
	s.log.Debug("notification sent", logx.String("source", opts.Source), logx.Duration("took", ev.Took))
	return nil
}

func (s *Service) record(ctx context.Context, ev NotificationEvent, text string) {
	if s.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := s.store.AppendAlert(sctx, storage.AlertEntry{
		ID:     ev.ID,
		At:     ev.At,
		Source: ev.Source,
		ChatID: ev.ChatID,
		Text:   text,
		OK:     ev.Error == "",
		Error:  ev.Error,
	})
	if err != nil {
		s.log.Warn("alert history append failed", logx.Err(err))
	}
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// Snapshot returns the in-memory history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}
