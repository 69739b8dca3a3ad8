// Package telegram implements the chat transport on top of telebot.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "proxywatch/internal/runtime/supervisor"
	kit "proxywatch/internal/transport"
	logx "proxywatch/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter long-polls the Bot API and forwards text messages to the channel
// given to Start. Sending works whether or not polling runs.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	sink    atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	mu   sync.Mutex
	poll *rtsup.Supervisor

	menu menuCache
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	bot, err := tele.NewBot(tele.Settings{
		Token: token,
		Poller: &tele.LongPoller{
			Timeout:        timeout,
			AllowedUpdates: []string{"message"},
		},
		// the updates goroutine is ours; errors surface through the logger
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{log: log, bot: bot}
	bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	a.forward(toMessage(m))
	return nil
}

func toMessage(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	return msg
}

// forward never blocks the poller; a full channel counts as a drop.
func (a *Adapter) forward(msg *kit.Message) {
	p := a.sink.Load()
	if p == nil {
		return
	}
	select {
	case *p <- kit.Update{Kind: kit.UpdateMessage, Message: msg}:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling. Calling it again while polling is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.poll != nil {
		return nil
	}
	a.sink.Store(&out)
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.poll = sup

	sup.Go0("telegram.drops", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.flushDrops()
				return
			case <-t.C:
				a.flushDrops()
			}
		}
	})
	sup.Go0("telegram.unblock", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start returns only after bot.Stop; a return while the context is
	// live is treated as a poller crash and restarted.
	sup.GoRestart("telegram.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) flushDrops() {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("updates dropped, dispatcher is behind", logx.Uint64("count", n))
	}
}

// Stop ends polling. A long poll that does not return within a short grace
// period is abandoned.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.poll
	a.poll = nil
	a.sink.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	err := sup.Wait(wctx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("poller did not stop in time", logx.Err(err))
	default:
		a.log.Debug("poller exited with error", logx.Err(err))
	}
	return nil
}
