package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"proxywatch/internal/notifier"
	logx "proxywatch/pkg/logx"
)

const source = "report"

// Config enables the scheduled report. An empty Schedule disables it.
type Config struct {
	Schedule string
	Timezone string
	Timeout  time.Duration
}

// Sender is implemented by *notifier.Service.
type Sender interface {
	Send(ctx context.Context, text string, opts notifier.Options) error
}

// Scheduler sends the status report on a cron schedule.
type Scheduler struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context

	fetch  Fetcher
	loops  LoopLister
	sender Sender
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Check reports whether Apply would accept cfg.
func Check(cfg Config) error {
	expr := strings.TrimSpace(cfg.Schedule)
	if expr == "" {
		return nil
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return err
	}
	if _, err := newParser().Parse(expr); err != nil {
		return fmt.Errorf("report schedule %q: %w", expr, err)
	}
	return nil
}

func New(cfg Config, f Fetcher, loops LoopLister, sender Sender, log logx.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "report")),
		parser: newParser(),
		fetch:  f,
		loops:  loops,
		sender: sender,
	}
}

// Start schedules the report. Runs stop when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	if s.c != nil {
		return nil
	}
	expr := strings.TrimSpace(s.cfg.Schedule)
	if expr == "" {
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(expr, func() { s.fire() }); err != nil {
		return fmt.Errorf("report schedule %q: %w", expr, err)
	}
	c.Start()
	s.c = c
	s.log.Info("report scheduled", logx.String("schedule", expr), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the schedule and waits for a running report to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Apply swaps the schedule at runtime.
func (s *Scheduler) Apply(cfg Config) error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	return s.startLocked()
}

// Next returns the next scheduled run, or zero when not scheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Run(rctx); err != nil {
		s.log.Warn("scheduled report failed", logx.Err(err))
	}
}

// Run sends one report now. A fetch failure is reported to the chat the
// same way the poll loops do.
func (s *Scheduler) Run(ctx context.Context) error {
	body, err := Status(ctx, s.fetch, s.loops)
	if err != nil {
		_ = s.sender.Send(ctx, "Error in program: "+err.Error(), notifier.Options{Source: source, Silent: true})
		return err
	}
	return s.sender.Send(ctx, body, notifier.Options{Source: source, HTML: true, Silent: true})
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("report timezone %q: %w", tz, err)
	}
	return loc, nil
}
