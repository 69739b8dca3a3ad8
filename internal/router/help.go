package router

import (
	"html"
	"strings"
)

// helpText renders the command list for ParseMode="HTML".
func (m *Manager) helpText() string {
	lines := []string{"📚 <b>Commands</b>", ""}
	for _, c := range m.Commands() {
		line := "<code>" + html.EscapeString(c.Usage) + "</code>"
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
