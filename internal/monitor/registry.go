package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"proxywatch/internal/eventbus"
	rtsup "proxywatch/internal/runtime/supervisor"
	logx "proxywatch/pkg/logx"
)

var (
	ErrUnknownLoop     = errors.New("unknown loop")
	ErrAlreadyRunning  = errors.New("loop already running")
	ErrNotRunning      = errors.New("loop not running")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Factory builds a fresh Loop. interval <= 0 asks for the configured
// default.
type Factory func(interval time.Duration) (*Loop, error)

// LoopEvent is the Data of monitor.started and monitor.stopped events.
type LoopEvent struct {
	Loop     string        `json:"loop"`
	Interval time.Duration `json:"interval"`
}

// LoopStatus is a point-in-time view of one registered loop.
type LoopStatus struct {
	Name      string
	Running   bool
	Interval  time.Duration
	State     State
	StartedAt time.Time
	Ticks     uint64
}

type handle struct {
	loop      *Loop
	sup       *rtsup.Supervisor
	startedAt time.Time
}

// Registry starts and stops loops by name. Each running loop has its own
// supervisor; no two instances of a name run at once.
type Registry struct {
	parent context.Context
	log    logx.Logger
	bus    eventbus.Bus

	mu        sync.Mutex
	factories map[string]Factory
	running   map[string]*handle
}

// NewRegistry returns a registry whose loops are children of parent.
func NewRegistry(parent context.Context, log logx.Logger, bus eventbus.Bus) *Registry {
	return &Registry{
		parent:    parent,
		log:       log.With(logx.String("comp", "registry")),
		bus:       bus,
		factories: map[string]Factory{},
		running:   map[string]*handle{},
	}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// Names returns the registered loop names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Start builds a new loop instance and runs it. Starting a running loop
// returns ErrAlreadyRunning and leaves the running instance alone.
func (r *Registry) Start(name string, interval time.Duration) (*Loop, error) {
	if interval < 0 {
		return nil, ErrInvalidInterval
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLoop, name)
	}
	if h, ok := r.running[name]; ok {
		return h.loop, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	loop, err := f(interval)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}

	sup := rtsup.New(r.parent, rtsup.WithLogger(r.log.With(logx.String("loop", name))))
	sup.GoRestart(name, loop.Run, rtsup.WithRestartBackoff(time.Second, time.Minute))
	r.running[name] = &handle{loop: loop, sup: sup, startedAt: time.Now()}

	r.log.Info("loop start requested", logx.String("loop", name), logx.Duration("interval", loop.Interval()))
	r.publish(eventbus.TypeLoopStarted, LoopEvent{Loop: name, Interval: loop.Interval()})
	return loop, nil
}

// Stop cancels a running loop and waits for it to exit or ctx to end.
func (r *Registry) Stop(ctx context.Context, name string) error {
	r.mu.Lock()
	h, ok := r.running[name]
	if ok {
		delete(r.running, name)
	}
	_, known := r.factories[name]
	r.mu.Unlock()

	if !ok {
		if !known {
			return fmt.Errorf("%w: %s", ErrUnknownLoop, name)
		}
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	err := h.sup.Stop(ctx)
	r.publish(eventbus.TypeLoopStopped, LoopEvent{Loop: name, Interval: h.loop.Interval()})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

// StopAll stops every running loop.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	names := make([]string, 0, len(r.running))
	for n := range r.running {
		names = append(names, n)
	}
	r.mu.Unlock()

	var errs []error
	for _, n := range names {
		if err := r.Stop(ctx, n); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running reports whether name has a live instance.
func (r *Registry) Running(name string) bool {
	r.mu.Lock()
	_, ok := r.running[name]
	r.mu.Unlock()
	return ok
}

// Status lists every registered loop, sorted by name.
func (r *Registry) Status() []LoopStatus {
	names := r.Names()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LoopStatus, 0, len(names))
	for _, n := range names {
		st := LoopStatus{Name: n}
		if h, ok := r.running[n]; ok {
			st.Running = true
			st.Interval = h.loop.Interval()
			st.State = h.loop.State()
			st.StartedAt = h.startedAt
			st.Ticks = h.loop.Ticks()
		}
		out = append(out, st)
	}
	return out
}

func (r *Registry) publish(typ string, ev LoopEvent) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}
