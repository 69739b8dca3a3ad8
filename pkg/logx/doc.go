// Package logx is the logging layer: a zerolog-backed Logger handle plus a
// Service that owns the sinks (console, JSON file for /log, and an optional
// rate-limited Telegram forwarder). Sinks can be swapped at runtime with
// Service.Apply.
package logx
