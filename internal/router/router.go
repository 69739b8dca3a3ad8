package router

import (
	"context"
	"errors"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"proxywatch/internal/eventbus"
	"proxywatch/internal/monitor"
	"proxywatch/internal/report"
	rtsup "proxywatch/internal/runtime/supervisor"
	"proxywatch/internal/storage"
	kit "proxywatch/internal/transport"
	logx "proxywatch/pkg/logx"
)

var (
	ErrUnauthorized   = errors.New("sender not allowed")
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUsage marks a command rejected for bad arguments; the user has
	// already been told why.
	ErrUsage = errors.New("invalid command usage")
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // 0 uses Config.Timeout
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	ReqID        string
	Logger       logx.Logger
}

// Loops is implemented by *monitor.Registry.
type Loops interface {
	Names() []string
	Start(name string, interval time.Duration) (*monitor.Loop, error)
	Stop(ctx context.Context, name string) error
	Status() []monitor.LoopStatus
}

// Deps are the services commands act on. Store and Bus may be nil.
type Deps struct {
	Loops   Loops
	Fetcher report.Fetcher
	Store   storage.Store
	Bus     eventbus.Bus
	// LogPath returns the current log file path ("" when file logging is off).
	LogPath func() string
}

type Config struct {
	// Chat is the destination chat; any member may run commands.
	Chat kit.ChatTarget
	// Owners may run commands from any chat.
	Owners    []int64
	TailLines int
	Timeout   time.Duration
	Workers   int
}

// Manager parses Telegram messages into commands and runs them on a small
// worker pool.
type Manager struct {
	mu  sync.RWMutex
	cfg Config

	cmds  []Command
	index map[string]int // name or alias -> cmds index

	log     logx.Logger
	adapter kit.Adapter
	deps    Deps

	jobs chan func()
}

func New(cfg Config, adapter kit.Adapter, deps Deps, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:     log.With(logx.String("comp", "router")),
		adapter: adapter,
		deps:    deps,
		jobs:    make(chan func(), 64),
	}
	m.applyLocked(cfg)
	m.setCommands(m.builtins())
	return m
}

// Apply swaps access and defaults. Safe during hot reload.
func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.applyLocked(cfg)
	m.mu.Unlock()
}

func (m *Manager) applyLocked(cfg Config) {
	cfg.Owners = append([]int64(nil), cfg.Owners...)
	if cfg.TailLines <= 0 {
		cfg.TailLines = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	m.cfg = cfg
}

func (m *Manager) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) setCommands(cmds []Command) {
	idx := map[string]int{}
	for i, c := range cmds {
		idx[c.Name] = i
		for _, a := range c.Aliases {
			if _, taken := idx[a]; !taken {
				idx[a] = i
			}
		}
	}
	m.mu.Lock()
	m.cmds = cmds
	m.index = idx
	m.mu.Unlock()
}

// Commands returns the registered commands in menu order.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.cmds)
}

func (m *Manager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[word]
	if !ok {
		return Command{}, false
	}
	return m.cmds[i], true
}

// UpdateMenu publishes the command list to the adapter's menu, when the
// adapter supports it.
func (m *Manager) UpdateMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	cmds := m.Commands()
	menu := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

func (m *Manager) allowed(msg *kit.Message) bool {
	cfg := m.config()
	if cfg.Chat.ChatID != 0 && msg.ChatID == cfg.Chat.ChatID {
		return true
	}
	return slices.Contains(cfg.Owners, msg.FromID)
}

// Dispatch runs the command carried by up, if any, on the calling goroutine.
// Non-command updates return nil.
func (m *Manager) Dispatch(ctx context.Context, up kit.Update) error {
	msg := up.Message
	if up.Kind != kit.UpdateMessage || msg == nil {
		return nil
	}
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return nil
	}
	word := commandWord(parts[0])
	if word == "" {
		return nil
	}
	if !m.allowed(msg) {
		m.log.Warn("command from unauthorized sender ignored",
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", word),
		)
		return ErrUnauthorized
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := m.lookup(word)
	if !ok {
		m.send(ctx, chat, "Unknown command. Try /help", false)
		return ErrUnknownCommand
	}

	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         parts[1:],
		ReqID:        rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.config().Timeout
	}
	final := Chain(
		cmd.Handle,
		audit(m.deps.Store, m.deps.Bus),
		recoverPanics(),
		logCommand(),
		withTimeout(timeout),
	)
	return final(ctx, req)
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *Manager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop reads updates until ctx is done or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.config().Workers
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil || !strings.HasPrefix(strings.TrimSpace(up.Message.Text), "/") {
				continue
			}
			if !m.tryEnqueue(func() { _ = m.Dispatch(ctx, up) }) {
				chat := kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
				m.send(ctx, chat, "Busy, try again", false)
			}
		}
	}
}

func (m *Manager) send(ctx context.Context, to kit.ChatTarget, text string, html bool) {
	opt := &kit.SendOptions{DisablePreview: true}
	if html {
		opt.ParseMode = "HTML"
	}
	if _, err := m.adapter.SendText(ctx, to, text, opt); err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (m *Manager) reply(ctx context.Context, req *Request, text string) {
	m.send(ctx, req.Chat, text, false)
}

func (m *Manager) replyHTML(ctx context.Context, req *Request, text string) {
	m.send(ctx, req.Chat, text, true)
}
