package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "proxywatch/pkg/logx"
)

// healthyRun is how long a run must last before the backoff starts over.
const healthyRun = 30 * time.Second

type restartPolicy struct {
	minWait     time.Duration
	maxWait     time.Duration
	stopOnClean bool
}

type RestartOption func(*restartPolicy)

// WithRestartBackoff bounds the exponential wait between restarts.
func WithRestartBackoff(minWait, maxWait time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if minWait > 0 {
			p.minWait = minWait
		}
		if maxWait > 0 {
			p.maxWait = maxWait
		}
	}
}

// WithStopOnCleanExit controls whether a nil return ends the goroutine
// (the default) or is restarted like a failure.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnClean = enabled }
}

// GoRestart keeps fn running until the context is canceled. Failures and
// panics are logged and retried with jittered exponential backoff; they
// never count as supervisor failures.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{minWait: 250 * time.Millisecond, maxWait: 30 * time.Second, stopOnClean: true}
	for _, opt := range opts {
		opt(&p)
	}
	p.maxWait = max(p.maxWait, p.minWait)

	s.Go0(name, func(ctx context.Context) {
		wait := p.minWait
		for ctx.Err() == nil {
			began := time.Now()
			err := s.protect(name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if p.stopOnClean {
					return
				}
				err = errors.New("returned early")
			}
			if time.Since(began) >= healthyRun {
				wait = p.minWait
			}
			s.restarts.Add(1)

			d := jitter(wait)
			s.log.Warn("goroutine restarting",
				logx.String("name", name),
				logx.Duration("backoff", d),
				logx.Err(fmt.Errorf("%s: %w", name, err)),
			)
			if !sleep(ctx, d) {
				return
			}
			wait = min(wait*2, p.maxWait)
		}
	})
}

// jitter adds up to 20% to d.
func jitter(d time.Duration) time.Duration {
	if j := int64(d / 5); j > 0 {
		return d + time.Duration(rand.Int64N(j+1))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
