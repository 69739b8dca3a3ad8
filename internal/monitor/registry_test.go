package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"proxywatch/internal/deviceapi"
	logx "proxywatch/pkg/logx"
)

func newTestRegistry(t *testing.T) (*Registry, *recordingSender) {
	t.Helper()
	res := deviceapi.PollResult{Devices: []deviceapi.Device{rotating("1", "A", "1.1.1.1", nil)}}
	f := &scriptedFetcher{steps: []fetchStep{{res: res}}}
	snd := &recordingSender{}
	r := NewRegistry(context.Background(), logx.Nop(), nil)
	r.Register(NameRotation, func(interval time.Duration) (*Loop, error) {
		if interval == 0 {
			interval = time.Hour
		}
		return NewLoop(LoopConfig{Strategy: NewRotationDiff(), Fetcher: f, Sender: snd, Interval: interval, Log: logx.Nop()})
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.StopAll(ctx)
	})
	return r, snd
}

func TestRegistryDoubleStart(t *testing.T) {
	r, _ := newTestRegistry(t)
	first, err := r.Start(NameRotation, 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	again, err := r.Start(NameRotation, time.Minute)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
	if again != first || first.Interval() != time.Hour {
		t.Fatalf("running instance replaced or interval changed")
	}
}

func TestRegistryStopDuringSleep(t *testing.T) {
	r, _ := newTestRegistry(t)
	loop, err := r.Start(NameRotation, time.Hour)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return loop.State() == StateSleeping })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	started := time.Now()
	if err := r.Stop(ctx, NameRotation); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(started) > time.Second {
		t.Fatalf("stop took too long")
	}
	if r.Running(NameRotation) {
		t.Fatalf("loop still registered as running")
	}
	if err := r.Stop(ctx, NameRotation); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop err = %v, want ErrNotRunning", err)
	}
}

func TestRegistryRestartBuildsFreshState(t *testing.T) {
	r, snd := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		loop, err := r.Start(NameRotation, time.Hour)
		if err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		waitFor(t, func() bool { return loop.Ticks() == 1 && loop.State() == StateSleeping })
		if err := r.Stop(ctx, NameRotation); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	// Each instance saw the device for the first time, so no rotation alert.
	for _, m := range snd.Messages() {
		if m != "Checking rotation started" {
			t.Fatalf("unexpected message %q", m)
		}
	}
}

func TestRegistryUnknownAndStatus(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Start("nope", 0); !errors.Is(err, ErrUnknownLoop) {
		t.Fatalf("err = %v, want ErrUnknownLoop", err)
	}
	if err := r.Stop(context.Background(), "nope"); !errors.Is(err, ErrUnknownLoop) {
		t.Fatalf("err = %v, want ErrUnknownLoop", err)
	}
	if _, err := r.Start(NameRotation, -time.Second); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("err = %v, want ErrInvalidInterval", err)
	}

	st := r.Status()
	if len(st) != 1 || st[0].Running {
		t.Fatalf("status before start = %+v", st)
	}
	if _, err := r.Start(NameRotation, 2*time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st = r.Status()
	if !st[0].Running || st[0].Interval != 2*time.Hour {
		t.Fatalf("status after start = %+v", st)
	}
}
