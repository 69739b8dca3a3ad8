package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"proxywatch/internal/monitor"
	"proxywatch/internal/report"
	logx "proxywatch/pkg/logx"
)

const (
	defaultHistory = 10
	maxHistory     = 50
)

func (m *Manager) builtins() []Command {
	return []Command{
		{Name: "start", Description: "show the command menu", Usage: "/start", Handle: m.cmdStart},
		{Name: "start_check", Description: "start a check loop", Usage: "/start_check <check_devices|check_rotation> [minutes]", Handle: m.cmdStartCheck},
		{Name: "stop_check", Description: "stop a check loop", Usage: "/stop_check <check_devices|check_rotation>", Handle: m.cmdStopCheck},
		{Name: "status", Aliases: []string{"manual_check"}, Description: "registered devices and loop states", Usage: "/status", Handle: m.cmdStatus},
		{Name: "check", Description: "check devices once", Usage: "/check", Handle: m.cmdCheck},
		{Name: "log", Aliases: []string{"request_log"}, Description: "last log records", Usage: "/log [lines]", Handle: m.cmdLog},
		{Name: "history", Description: "recently sent alerts", Usage: "/history [n]", Handle: m.cmdHistory},
		{Name: "help", Aliases: []string{"h"}, Description: "show help", Usage: "/help", Handle: m.cmdHelp},
	}
}

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

func (m *Manager) cmdStart(ctx context.Context, req *Request) error {
	m.replyHTML(ctx, req, "Choose command:\n\n"+m.helpText())
	return nil
}

func (m *Manager) cmdHelp(ctx context.Context, req *Request) error {
	m.replyHTML(ctx, req, m.helpText())
	return nil
}

func (m *Manager) validLoop(name string) bool {
	for _, n := range m.deps.Loops.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func (m *Manager) invalidLoop(ctx context.Context, req *Request, name string) error {
	m.reply(ctx, req, "Invalid task_name! Available options: "+strings.Join(m.deps.Loops.Names(), ", "))
	return usage("unknown loop %q", name)
}

func (m *Manager) cmdStartCheck(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		m.reply(ctx, req, "Invalid command format for start_check")
		return usage("missing loop name")
	}
	name := req.Args[0]
	if !m.validLoop(name) {
		return m.invalidLoop(ctx, req, name)
	}
	var interval time.Duration
	if len(req.Args) > 1 {
		minutes, err := strconv.Atoi(req.Args[1])
		if err != nil || minutes <= 0 {
			m.reply(ctx, req, "Retry period must be integer!")
			return usage("bad retry period %q", req.Args[1])
		}
		interval = time.Duration(minutes) * time.Minute
	}

	loop, err := m.deps.Loops.Start(name, interval)
	switch {
	case errors.Is(err, monitor.ErrAlreadyRunning):
		m.reply(ctx, req, name+" is already running.")
		return nil
	case err != nil:
		m.reply(ctx, req, "Error in program: "+err.Error())
		return err
	}
	// The loop announces itself to the destination chat; confirm elsewhere.
	if req.Chat != m.config().Chat {
		m.reply(ctx, req, fmt.Sprintf("%s started (%s)", name, report.FormatInterval(loop.Interval())))
	}
	return nil
}

func (m *Manager) cmdStopCheck(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		m.reply(ctx, req, "Invalid command format for stop_check")
		return usage("missing loop name")
	}
	name := req.Args[0]
	if !m.validLoop(name) {
		return m.invalidLoop(ctx, req, name)
	}
	err := m.deps.Loops.Stop(ctx, name)
	switch {
	case errors.Is(err, monitor.ErrNotRunning):
		m.reply(ctx, req, "No active "+name+" task found.")
		return nil
	case err != nil:
		m.reply(ctx, req, "Error in program: "+err.Error())
		return err
	}
	m.reply(ctx, req, name+" stopped.")
	return nil
}

func (m *Manager) cmdStatus(ctx context.Context, req *Request) error {
	body, err := report.Status(ctx, m.deps.Fetcher, m.deps.Loops)
	if err != nil {
		m.reply(ctx, req, "Error in program: "+err.Error())
		return err
	}
	m.replyHTML(ctx, req, body)
	return nil
}

func (m *Manager) cmdCheck(ctx context.Context, req *Request) error {
	res, err := m.deps.Fetcher.Fetch(ctx)
	if err != nil {
		m.reply(ctx, req, "Error in program: "+err.Error())
		return err
	}
	offline, anomalies := monitor.OfflineDevices(res.Devices)
	for _, a := range append(res.Anomalies, anomalies...) {
		req.Logger.Warn("anomalous record", logx.String("record", a.String()))
	}
	text := monitor.FormatOffline(offline)
	if text == "" {
		text = "All devices online"
	}
	m.reply(ctx, req, text+"\n\n"+monitor.FormatDeviceList(res.Devices))
	return nil
}

func (m *Manager) cmdLog(ctx context.Context, req *Request) error {
	n := m.config().TailLines
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			m.reply(ctx, req, "Lines must be integer!")
			return usage("bad line count %q", req.Args[0])
		}
		n = v
	}
	path := ""
	if m.deps.LogPath != nil {
		path = m.deps.LogPath()
	}
	if path == "" {
		m.reply(ctx, req, "Log file not found")
		return nil
	}
	lines, err := logx.TailFile(path, n)
	if errors.Is(err, logx.ErrNoLogFile) {
		m.reply(ctx, req, "Log file not found")
		return nil
	}
	if err != nil {
		m.reply(ctx, req, "Error in program: "+err.Error())
		return err
	}
	m.replyHTML(ctx, req, fmt.Sprintf("Last %d info log records:\n<code>%s</code>", n, html.EscapeString(strings.Join(lines, "\n"))))
	return nil
}

func (m *Manager) cmdHistory(ctx context.Context, req *Request) error {
	if m.deps.Store == nil {
		m.reply(ctx, req, "History is disabled")
		return nil
	}
	n := defaultHistory
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			m.reply(ctx, req, "Count must be integer!")
			return usage("bad count %q", req.Args[0])
		}
		n = min(v, maxHistory)
	}
	entries, err := m.deps.Store.RecentAlerts(ctx, n)
	if err != nil {
		m.reply(ctx, req, "Error in program: "+err.Error())
		return err
	}
	if len(entries) == 0 {
		m.reply(ctx, req, "No alerts recorded yet")
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d alerts:\n<code>", len(entries))
	for _, e := range entries {
		mark := "ok"
		if !e.OK {
			mark = "failed"
		}
		fmt.Fprintf(&b, "%s [%s] %s: %s\n", e.At.Format("2006-01-02 15:04"), html.EscapeString(e.Source), mark, html.EscapeString(e.Text))
	}
	b.WriteString("</code>")
	m.replyHTML(ctx, req, b.String())
	return nil
}
