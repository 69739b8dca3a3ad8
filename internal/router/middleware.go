package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"proxywatch/internal/eventbus"
	"proxywatch/internal/storage"
	logx "proxywatch/pkg/logx"
)

const (
	slowCommand  = 750 * time.Millisecond
	auditTimeout = 2 * time.Second
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that mws[0] is the outermost layer.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// recoverPanics turns a handler panic into an error for the layers above.
func recoverPanics() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("command handler panicked",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// logCommand logs failures at warn, slow commands at info and the rest at
// debug.
func logCommand() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := time.Since(began)

			fields := []logx.Field{logx.Strings("args", req.Args), logx.Duration("took", took)}
			switch {
			case err != nil:
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			case took >= slowCommand:
				req.Logger.Info("command ok", fields...)
			default:
				req.Logger.Debug("command ok", fields...)
			}
			return err
		}
	}
}

// audit publishes a command event on bus and appends an audit row to store;
// either may be nil. It must sit outside recoverPanics so that a panic is
// recorded as a failed command.
func audit(store storage.Store, bus eventbus.Bus) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := time.Since(began)

			if bus != nil {
				bus.Publish(eventbus.Event{
					Type: eventbus.TypeCommandHandled,
					Data: eventbus.CommandEvent{Command: req.Command, OK: err == nil, Took: took},
				})
			}
			if store != nil {
				row := storage.AuditEntry{
					At:            began,
					ActorID:       req.FromID,
					ActorUsername: req.FromUsername,
					ChatID:        req.Chat.ChatID,
					Command:       req.Command,
					Args:          strings.Join(req.Args, " "),
					OK:            err == nil,
					TookMS:        took.Milliseconds(),
				}
				if err != nil {
					row.Error = err.Error()
				}
				// the command context may already be canceled by its timeout
				actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
				if aerr := store.AppendAudit(actx, row); aerr != nil {
					req.Logger.Warn("audit append failed", logx.Err(aerr))
				}
				cancel()
			}
			return err
		}
	}
}
