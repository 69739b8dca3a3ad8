package monitor

import (
	"context"
	"sync"

	"proxywatch/internal/deviceapi"
	"proxywatch/internal/notifier"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	steps []fetchStep
	calls int
}

type fetchStep struct {
	res deviceapi.PollResult
	err error
}

// Fetch replays steps in order and repeats the last one.
func (f *scriptedFetcher) Fetch(ctx context.Context) (deviceapi.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	return f.steps[i].res, f.steps[i].err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	opts []notifier.Options
	err  error
}

func (s *recordingSender) Send(ctx context.Context, text string, opts notifier.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, text)
	s.opts = append(s.opts, opts)
	return s.err
}

func (s *recordingSender) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func boolp(b bool) *bool    { return &b }
func strp(s string) *string { return &s }

func dev(id, name string) deviceapi.Device {
	return deviceapi.Device{ID: deviceapi.DeviceID(id), Name: name}
}
