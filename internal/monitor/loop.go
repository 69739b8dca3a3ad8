package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"proxywatch/internal/deviceapi"
	"proxywatch/internal/eventbus"
	"proxywatch/internal/notifier"
	logx "proxywatch/pkg/logx"
)

// State is the phase a loop is currently in.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDiffing
	StateNotifying
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDiffing:
		return "diffing"
	case StateNotifying:
		return "notifying"
	case StateSleeping:
		return "sleeping"
	}
	return "unknown"
}

// Tick outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeAlerts     = "alerts"
	OutcomeFetchError = "fetch_error"
	OutcomeDiffError  = "diff_error"
)

// Fetcher is implemented by *deviceapi.Client.
type Fetcher interface {
	Fetch(ctx context.Context) (deviceapi.PollResult, error)
}

// Sender is implemented by *notifier.Service.
type Sender interface {
	Send(ctx context.Context, text string, opts notifier.Options) error
}

type LoopConfig struct {
	Strategy Strategy
	Fetcher  Fetcher
	Sender   Sender
	Interval time.Duration
	// Silent sends the loop's alerts without a notification sound.
	Silent bool
	Bus    eventbus.Bus
	Log    logx.Logger
}

// TickEvent summarizes one cycle. It is the Data of monitor.tick events.
type TickEvent struct {
	Loop      string        `json:"loop"`
	ID        string        `json:"id"`
	At        time.Time     `json:"at"`
	Outcome   string        `json:"outcome"`
	Alerts    int           `json:"alerts"`
	Delivered int           `json:"delivered"`
	Anomalies int           `json:"anomalies"`
	FetchTook time.Duration `json:"fetch_took"`
	Took      time.Duration `json:"took"`
	Error     string        `json:"error,omitempty"`
}

// Loop is one fixed-cadence poll loop. Its interval never changes while it
// runs; restart the loop to change it.
type Loop struct {
	strategy Strategy
	fetcher  Fetcher
	sender   Sender
	interval time.Duration
	silent   bool
	bus      eventbus.Bus
	log      logx.Logger

	state     atomic.Int32
	ticks     atomic.Uint64
	startOnce sync.Once

	mu   sync.Mutex
	last *TickEvent
}

func NewLoop(cfg LoopConfig) (*Loop, error) {
	switch {
	case cfg.Strategy == nil:
		return nil, errors.New("monitor: strategy is required")
	case cfg.Fetcher == nil:
		return nil, errors.New("monitor: fetcher is required")
	case cfg.Sender == nil:
		return nil, errors.New("monitor: sender is required")
	case cfg.Interval <= 0:
		return nil, ErrInvalidInterval
	}
	return &Loop{
		strategy: cfg.Strategy,
		fetcher:  cfg.Fetcher,
		sender:   cfg.Sender,
		interval: cfg.Interval,
		silent:   cfg.Silent,
		bus:      cfg.Bus,
		log:      cfg.Log.With(logx.String("comp", "monitor"), logx.String("loop", cfg.Strategy.Name())),
	}, nil
}

func (l *Loop) Name() string            { return l.strategy.Name() }
func (l *Loop) Interval() time.Duration { return l.interval }
func (l *Loop) State() State            { return State(l.state.Load()) }
func (l *Loop) Ticks() uint64           { return l.ticks.Load() }

// LastTick returns the most recent completed tick.
func (l *Loop) LastTick() (TickEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return TickEvent{}, false
	}
	return *l.last, true
}

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// Run ticks until ctx is done and returns nil on cancellation. The start
// message is sent once per Loop, even if Run is restarted after a panic.
func (l *Loop) Run(ctx context.Context) error {
	defer l.setState(StateIdle)

	l.startOnce.Do(func() {
		l.log.Info("loop started", logx.Duration("interval", l.interval))
		if msg := l.strategy.StartMessage(); msg != "" {
			l.send(ctx, msg)
		}
	})

	for {
		if ctx.Err() != nil {
			return nil
		}
		l.Tick(ctx)

		l.setState(StateSleeping)
		l.log.Debug("loop sleeping", logx.Duration("interval", l.interval))
		t := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			l.log.Info("loop stopped")
			return nil
		case <-t.C:
		}
	}
}

// Tick runs one Fetching, Diffing, Notifying cycle without sleeping.
func (l *Loop) Tick(ctx context.Context) TickEvent {
	started := time.Now()
	ev := TickEvent{Loop: l.Name(), ID: uuid.NewString(), At: started}
	log := l.log.With(logx.String("tick", ev.ID))

	l.setState(StateFetching)
	var res deviceapi.PollResult
	err := guard(func() (err error) {
		res, err = l.fetcher.Fetch(ctx)
		return err
	})
	ev.FetchTook = time.Since(started)
	if err != nil {
		ev.Outcome = OutcomeFetchError
		l.fail(ctx, log, &ev, err)
		return l.finish(ev, started)
	}
	l.logAnomalies(log, res.Anomalies)

	l.setState(StateDiffing)
	var rep Report
	err = guard(func() (err error) {
		rep, err = l.strategy.Diff(ctx, res)
		return err
	})
	if err != nil {
		ev.Outcome = OutcomeDiffError
		l.fail(ctx, log, &ev, err)
		return l.finish(ev, started)
	}
	l.logAnomalies(log, rep.Anomalies)
	ev.Anomalies = len(res.Anomalies) + len(rep.Anomalies)

	l.setState(StateNotifying)
	ev.Outcome = OutcomeOK
	ev.Alerts = len(rep.Alerts)
	if len(rep.Alerts) > 0 {
		ev.Outcome = OutcomeAlerts
	}
	for _, a := range rep.Alerts {
		log.Info("alert", logx.String("text", a))
		if l.send(ctx, a) {
			ev.Delivered++
		}
	}
	if len(rep.Alerts) == 0 {
		log.Info("nothing to report", logx.Int("devices", len(res.Devices)))
	}
	return l.finish(ev, started)
}

// guard runs fn and turns a panic into an error, so a bad payload costs one
// tick and an "Error in program" notice instead of a loop restart.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (l *Loop) fail(ctx context.Context, log logx.Logger, ev *TickEvent, err error) {
	ev.Error = err.Error()
	log.Error("tick failed", logx.String("outcome", ev.Outcome), logx.Err(err))
	if ctx.Err() != nil {
		return
	}
	l.setState(StateNotifying)
	l.send(ctx, fmt.Sprintf("Error in program: %v", err))
}

// send is best effort: a delivery failure is logged and never reported
// back to the chat.
func (l *Loop) send(ctx context.Context, text string) bool {
	err := l.sender.Send(ctx, text, notifier.Options{Source: l.Name(), Silent: l.silent})
	if err != nil {
		l.log.Warn("send failed", logx.Err(err))
		return false
	}
	return true
}

func (l *Loop) logAnomalies(log logx.Logger, as []deviceapi.AnomalousRecord) {
	for _, a := range as {
		log.Warn("anomalous record", logx.Int("index", a.Index), logx.String("id", string(a.ID)), logx.String("name", a.Name), logx.String("reason", a.Reason))
	}
}

func (l *Loop) finish(ev TickEvent, started time.Time) TickEvent {
	ev.Took = time.Since(started)
	l.ticks.Add(1)
	l.mu.Lock()
	l.last = &ev
	l.mu.Unlock()
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Time: started, Data: ev})
	}
	return ev
}
