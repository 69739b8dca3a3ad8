package monitor

import (
	"context"

	"proxywatch/internal/deviceapi"
)

// Loop names, also used as command arguments.
const (
	NameDevices  = "check_devices"
	NameRotation = "check_rotation"
)

// Report is the outcome of one diff: alert texts to send, plus records the
// diff had to skip.
type Report struct {
	Alerts    []string
	Anomalies []deviceapi.AnomalousRecord
}

// Strategy compares one poll result against whatever state it owns.
// A Strategy is used by a single loop and need not be concurrency-safe.
type Strategy interface {
	Name() string
	// StartMessage is sent when the loop starts. Empty means none.
	StartMessage() string
	Diff(ctx context.Context, res deviceapi.PollResult) (Report, error)
}
