package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"proxywatch/internal/deviceapi"
	"proxywatch/internal/eventbus"
	"proxywatch/internal/notifier"
	logx "proxywatch/pkg/logx"
)

func newTestLoop(t *testing.T, s Strategy, f Fetcher, snd Sender, interval time.Duration) *Loop {
	t.Helper()
	l, err := NewLoop(LoopConfig{Strategy: s, Fetcher: f, Sender: snd, Interval: interval, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return l
}

func TestTickOfflineDeviceEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result": [{"id":1,"name":"A","online":false,"description":"d"}]}`))
	}))
	defer srv.Close()
	client, err := deviceapi.New(deviceapi.Config{Endpoint: srv.URL, Token: "t"}, logx.Nop())
	if err != nil {
		t.Fatalf("deviceapi.New: %v", err)
	}
	snd := &recordingSender{}
	l := newTestLoop(t, StatusDiff{}, client, snd, time.Minute)

	ev := l.Tick(context.Background())
	if ev.Outcome != OutcomeAlerts || ev.Delivered != 1 {
		t.Fatalf("tick = %+v", ev)
	}
	msgs := snd.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "A - d") {
		t.Fatalf("messages = %v", msgs)
	}
	if snd.opts[0].Source != NameDevices {
		t.Fatalf("source = %q", snd.opts[0].Source)
	}
}

func TestRunServerErrorNotifiesOnceAndSleeps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	client, err := deviceapi.New(deviceapi.Config{Endpoint: srv.URL, Token: "t"}, logx.Nop())
	if err != nil {
		t.Fatalf("deviceapi.New: %v", err)
	}
	snd := &recordingSender{}
	l := newTestLoop(t, StatusDiff{}, client, snd, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitFor(t, func() bool { return l.State() == StateSleeping })
	ev, ok := l.LastTick()
	if !ok || ev.Outcome != OutcomeFetchError || !strings.Contains(ev.Error, "500") {
		t.Fatalf("last tick = %+v", ev)
	}
	msgs := snd.Messages()
	if len(msgs) != 2 || msgs[0] != "Checking devices started" || !strings.HasPrefix(msgs[1], "Error in program: ") || !strings.Contains(msgs[1], "500") {
		t.Fatalf("messages = %v", msgs)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop")
	}
	if l.Ticks() != 1 {
		t.Fatalf("ticks = %d, want 1 (full interval not waited)", l.Ticks())
	}
	if l.State() != StateIdle {
		t.Fatalf("state = %v, want idle", l.State())
	}
}

func TestRotationAcrossTicks(t *testing.T) {
	same := deviceapi.PollResult{Devices: []deviceapi.Device{rotating("1", "A", "1.1.1.1", boolp(true))}}
	f := &scriptedFetcher{steps: []fetchStep{{res: same}}}
	snd := &recordingSender{}
	l := newTestLoop(t, NewRotationDiff(), f, snd, time.Minute)

	if ev := l.Tick(context.Background()); ev.Alerts != 0 {
		t.Fatalf("tick 1 alerts = %d", ev.Alerts)
	}
	if ev := l.Tick(context.Background()); ev.Alerts != 1 {
		t.Fatalf("tick 2 alerts = %d", ev.Alerts)
	}
	msgs := snd.Messages()
	if len(msgs) != 1 || msgs[0] != "IP not changed on device: A" {
		t.Fatalf("messages = %v", msgs)
	}
}

func TestDeliveryFailureDoesNotStopLoop(t *testing.T) {
	res := deviceapi.PollResult{Devices: []deviceapi.Device{{ID: "1", Name: "A", Online: boolp(false)}}}
	f := &scriptedFetcher{steps: []fetchStep{{res: res}}}
	snd := &recordingSender{err: notifier.ErrDelivery}
	l := newTestLoop(t, StatusDiff{}, f, snd, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	waitFor(t, func() bool { return l.Ticks() >= 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, m := range snd.Messages() {
		if strings.Contains(m, "delivery") {
			t.Fatalf("delivery failure was reported to chat: %q", m)
		}
	}
	if ev, _ := l.LastTick(); ev.Delivered != 0 || ev.Outcome != OutcomeAlerts {
		t.Fatalf("last tick = %+v", ev)
	}
}

type failingDiff struct{}

func (failingDiff) Name() string         { return "failing" }
func (failingDiff) StartMessage() string { return "" }
func (failingDiff) Diff(context.Context, deviceapi.PollResult) (Report, error) {
	return Report{}, errors.New("bad state")
}

func TestDiffErrorNotifies(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{{res: deviceapi.PollResult{Devices: []deviceapi.Device{dev("1", "A")}}}}}
	snd := &recordingSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(2)
	defer unsub()
	l, err := NewLoop(LoopConfig{Strategy: failingDiff{}, Fetcher: f, Sender: snd, Interval: time.Minute, Bus: bus, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	ev := l.Tick(context.Background())
	if ev.Outcome != OutcomeDiffError {
		t.Fatalf("outcome = %s", ev.Outcome)
	}
	if msgs := snd.Messages(); len(msgs) != 1 || msgs[0] != "Error in program: bad state" {
		t.Fatalf("messages = %v", msgs)
	}
	e := <-events
	if e.Type != eventbus.TypeTick || e.Data.(TickEvent).Outcome != OutcomeDiffError {
		t.Fatalf("event = %+v", e)
	}
}

func TestNewLoopRejectsBadConfig(t *testing.T) {
	f := &scriptedFetcher{}
	snd := &recordingSender{}
	if _, err := NewLoop(LoopConfig{Strategy: StatusDiff{}, Fetcher: f, Sender: snd}); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("err = %v, want ErrInvalidInterval", err)
	}
	if _, err := NewLoop(LoopConfig{Fetcher: f, Sender: snd, Interval: time.Second}); err == nil {
		t.Fatalf("missing strategy should fail")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

type panickingDiff struct{}

func (panickingDiff) Name() string         { return NameDevices }
func (panickingDiff) StartMessage() string { return "" }
func (panickingDiff) Diff(context.Context, deviceapi.PollResult) (Report, error) {
	panic("malformed record")
}

func TestDiffPanicNotifiesAndSleepsFullPeriod(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{{res: deviceapi.PollResult{Devices: []deviceapi.Device{dev("1", "A")}}}}}
	snd := &recordingSender{}
	l := newTestLoop(t, panickingDiff{}, f, snd, time.Hour)

	ev := l.Tick(context.Background())
	if ev.Outcome != OutcomeDiffError {
		t.Fatalf("outcome = %s", ev.Outcome)
	}
	if msgs := snd.Messages(); len(msgs) != 1 || !strings.HasPrefix(msgs[0], "Error in program: panic:") {
		t.Fatalf("messages = %v", msgs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.Calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Run did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := f.Calls(); got != 2 {
		t.Fatalf("fetch calls = %d, loop should be sleeping after the panic", got)
	}
	if l.State() != StateSleeping {
		t.Fatalf("state = %v, want sleeping", l.State())
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
