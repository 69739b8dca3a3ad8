package report

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"proxywatch/internal/deviceapi"
	"proxywatch/internal/monitor"
)

// Fetcher is implemented by *deviceapi.Client.
type Fetcher interface {
	Fetch(ctx context.Context) (deviceapi.PollResult, error)
}

// LoopLister is implemented by *monitor.Registry.
type LoopLister interface {
	Status() []monitor.LoopStatus
}

var loopTitles = map[string]string{
	monitor.NameDevices:  "Auto check online",
	monitor.NameRotation: "Auto check rotation",
}

// Status fetches the device list and renders it with the loop states as an
// HTML message body.
func Status(ctx context.Context, f Fetcher, loops LoopLister) (string, error) {
	res, err := f.Fetch(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("<code>Registered devices:\n\n")
	for _, d := range res.Devices {
		fmt.Fprintf(&b, "%s - %s - %s\n", html.EscapeString(d.Name), html.EscapeString(d.Description), html.EscapeString(string(d.ID)))
	}
	b.WriteString("\n")
	b.WriteString(LoopsText(loops))
	b.WriteString("</code>")
	return b.String(), nil
}

// LoopsText renders one line per registered loop.
func LoopsText(loops LoopLister) string {
	var b strings.Builder
	for _, st := range loops.Status() {
		title := loopTitles[st.Name]
		if title == "" {
			title = st.Name
		}
		if st.Running {
			fmt.Fprintf(&b, "%s: ✅ running (%s, %s)\n", title, FormatInterval(st.Interval), st.State)
		} else {
			fmt.Fprintf(&b, "%s: 🛑 stopped\n", title)
		}
	}
	return b.String()
}

// FormatInterval prints whole minutes as "N min".
func FormatInterval(d time.Duration) string {
	if d > 0 && d%time.Minute == 0 {
		return fmt.Sprintf("%d min", int64(d/time.Minute))
	}
	return d.String()
}
