package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "proxywatch/internal/transport"
)

const (
	telegramQueue       = 32
	telegramSendTimeout = 5 * time.Second
	telegramMaxRunes    = 3500
)

// telegramSink forwards records at or above a minimum level to a chat.
// Writes never block: records over the rate or queue limit are dropped.
type telegramSink struct {
	adapter kit.Adapter

	mu      sync.Mutex
	target  kit.ChatTarget
	min     zerolog.Level
	limiter *rate.Limiter
	rps     int

	queue   chan []byte
	dropped atomic.Uint64
	stop    context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func newTelegramSink(adapter kit.Adapter) *telegramSink {
	ctx, cancel := context.WithCancel(context.Background())
	t := &telegramSink{
		adapter: adapter,
		min:     zerolog.ErrorLevel,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		rps:     1,
		queue:   make(chan []byte, telegramQueue),
		stop:    cancel,
		done:    make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = kit.ChatTarget{ChatID: cfg.ChatID, Username: cfg.Username, ThreadID: cfg.ThreadID}
	t.min = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	if rps != t.rps {
		t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
		t.rps = rps
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.NoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	skip := level < t.min
	allowed := !skip && t.limiter.Allow()
	t.mu.Unlock()
	if skip {
		return len(p), nil
	}
	if !allowed {
		t.dropped.Add(1)
		return len(p), nil
	}
	select {
	case t.queue <- append([]byte(nil), p...):
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

func (t *telegramSink) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-t.queue:
			t.mu.Lock()
			to := t.target
			t.mu.Unlock()
			if to.IsZero() {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, telegramSendTimeout)
			if _, err := t.adapter.SendText(sctx, to, formatTelegramJSON(p), nil); err != nil {
				// logging here would feed the sink again
				t.dropped.Add(1)
			}
			cancel()
		}
	}
}

func (t *telegramSink) close() {
	t.once.Do(func() {
		t.stop()
		<-t.done
	})
}

// formatTelegramJSON renders one JSON record as
// "[LEVEL] message" followed by "- key=value" lines in key order.
func formatTelegramJSON(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return truncateRunes(strings.TrimSpace(string(p)), telegramMaxRunes)
	}
	level, _ := rec[zerolog.LevelFieldName].(string)
	msg, _ := rec[zerolog.MessageFieldName].(string)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(level), msg)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%v", k, rec[k])
	}
	return truncateRunes(b.String(), telegramMaxRunes)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
