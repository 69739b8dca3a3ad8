package monitor

import (
	"context"
	"strings"

	"proxywatch/internal/deviceapi"
)

// OfflineDevices returns the labels of devices whose online flag is present
// and false, in input order. Devices without the flag are returned as
// anomalies and belong to neither class.
func OfflineDevices(devs []deviceapi.Device) (offline []string, anomalies []deviceapi.AnomalousRecord) {
	for i, d := range devs {
		if d.Online == nil {
			anomalies = append(anomalies, deviceapi.AnomalousRecord{Index: i, ID: d.ID, Name: d.Name, Reason: `no key "online"`})
			continue
		}
		if !*d.Online {
			offline = append(offline, d.Label())
		}
	}
	return offline, anomalies
}

// FormatOffline renders the offline alert, or "" when nothing is offline.
func FormatOffline(offline []string) string {
	if len(offline) == 0 {
		return ""
	}
	return "Offline devices: " + strings.Join(offline, ", ")
}

// FormatDeviceList renders every record as "name - description ID: id",
// one per line, under an "Active devices:" header.
func FormatDeviceList(devs []deviceapi.Device) string {
	lines := make([]string, 0, len(devs)+1)
	lines = append(lines, "Active devices:")
	for _, d := range devs {
		lines = append(lines, d.Label()+" ID: "+string(d.ID))
	}
	return strings.Join(lines, "\n")
}

// StatusDiff alerts on offline devices. It is stateless.
type StatusDiff struct{}

func (StatusDiff) Name() string         { return NameDevices }
func (StatusDiff) StartMessage() string { return "Checking devices started" }

func (StatusDiff) Diff(_ context.Context, res deviceapi.PollResult) (Report, error) {
	offline, anomalies := OfflineDevices(res.Devices)
	rep := Report{Anomalies: anomalies}
	if msg := FormatOffline(offline); msg != "" {
		rep.Alerts = []string{msg}
	}
	return rep, nil
}
