package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proxywatch/internal/eventbus"
	"proxywatch/internal/storage"
	kit "proxywatch/internal/transport"
	logx "proxywatch/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  kit.SendOptions
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	f.sent = append(f.sent, sent{to: to, text: text, opt: o})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

type memStore struct {
	mu     sync.Mutex
	alerts []storage.AlertEntry
}

func (m *memStore) AppendAlert(ctx context.Context, e storage.AlertEntry) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, e)
	m.mu.Unlock()
	return nil
}
func (m *memStore) RecentAlerts(ctx context.Context, limit int) ([]storage.AlertEntry, error) {
	return nil, nil
}
func (m *memStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error { return nil }
func (m *memStore) Close() error                                               { return nil }

func TestSendDeliversToTarget(t *testing.T) {
	ad := &fakeAdapter{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	st := &memStore{}
	target := kit.ChatTarget{ChatID: -100, ThreadID: 3}
	svc := New(Config{Target: target, RatePerSec: 100}, ad, logx.Nop(), bus, st)

	if err := svc.Send(context.Background(), "Offline devices: A - d", Options{Source: "check_devices", HTML: true, Silent: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ad.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(ad.sent))
	}
	got := ad.sent[0]
	if got.to != target || got.text != "Offline devices: A - d" {
		t.Fatalf("unexpected send: %+v", got)
	}
	if got.opt.ParseMode != "HTML" || !got.opt.Silent {
		t.Fatalf("options not passed: %+v", got.opt)
	}
	if h := svc.Snapshot(); len(h) != 1 || h[0].Source != "check_devices" {
		t.Fatalf("history = %+v", h)
	}
	if len(st.alerts) != 1 || !st.alerts[0].OK || st.alerts[0].ChatID != -100 {
		t.Fatalf("store = %+v", st.alerts)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.TypeNotifySent {
			t.Fatalf("event type = %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event published")
	}
}

func TestSendFailureIsDeliveryError(t *testing.T) {
	ad := &fakeAdapter{err: errors.New("telegram down")}
	st := &memStore{}
	svc := New(Config{Target: kit.ChatTarget{ChatID: 1}, RatePerSec: 100}, ad, logx.Nop(), nil, st)

	err := svc.Send(context.Background(), "hello", Options{})
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
	if len(svc.Snapshot()) != 0 {
		t.Fatalf("failed send must not enter history")
	}
	if len(st.alerts) != 1 || st.alerts[0].OK || st.alerts[0].Error == "" {
		t.Fatalf("failed attempt not recorded: %+v", st.alerts)
	}
}

func TestSendEmptyTextIsNoop(t *testing.T) {
	ad := &fakeAdapter{}
	svc := New(Config{}, ad, logx.Nop(), nil, nil)
	if err := svc.Send(context.Background(), "   ", Options{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ad.sent) != 0 {
		t.Fatalf("empty text should not be sent")
	}
}

func TestSendCanceledWhileRateLimited(t *testing.T) {
	ad := &fakeAdapter{}
	svc := New(Config{RatePerSec: 1}, ad, logx.Nop(), nil, nil)
	if err := svc.Send(context.Background(), "first", Options{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Send(ctx, "second", Options{}); !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
}

func TestSendConcurrent(t *testing.T) {
	ad := &fakeAdapter{}
	svc := New(Config{RatePerSec: 1000}, ad, logx.Nop(), nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Send(context.Background(), "x", Options{})
		}()
	}
	wg.Wait()
	if len(ad.sent) != 20 {
		t.Fatalf("sent = %d, want 20", len(ad.sent))
	}
}
