package monitor

import (
	"context"

	"proxywatch/internal/deviceapi"
)

// Observation classifies one device against its last recorded IP.
type Observation int

const (
	FirstSeen Observation = iota + 1
	Unchanged
	Rotated
)

func (o Observation) String() string {
	switch o {
	case FirstSeen:
		return "first_seen"
	case Unchanged:
		return "unchanged"
	case Rotated:
		return "rotated"
	}
	return "unknown"
}

// LastIPMap remembers the last external IP seen per device. A missing key
// means the device was never observed. It is owned by one loop and not
// safe for concurrent use.
type LastIPMap struct {
	ips map[deviceapi.DeviceID]string
}

func NewLastIPMap() *LastIPMap {
	return &LastIPMap{ips: map[deviceapi.DeviceID]string{}}
}

// Observe records ip for id and classifies it. ip must be non-empty.
// An unchanged IP keeps its entry.
func (m *LastIPMap) Observe(id deviceapi.DeviceID, ip string) Observation {
	last, ok := m.ips[id]
	switch {
	case !ok:
		m.ips[id] = ip
		return FirstSeen
	case last == ip:
		return Unchanged
	default:
		m.ips[id] = ip
		return Rotated
	}
}

// Lookup returns the recorded IP for id.
func (m *LastIPMap) Lookup(id deviceapi.DeviceID) (string, bool) {
	ip, ok := m.ips[id]
	return ip, ok
}

func (m *LastIPMap) Len() int { return len(m.ips) }

// RotationDiff alerts on rotation-enabled devices whose IP did not change
// since the previous tick. Each instance owns its LastIPMap.
type RotationDiff struct {
	last *LastIPMap
}

func NewRotationDiff() *RotationDiff {
	return &RotationDiff{last: NewLastIPMap()}
}

func (*RotationDiff) Name() string         { return NameRotation }
func (*RotationDiff) StartMessage() string { return "Checking rotation started" }

// State exposes the map for inspection.
func (r *RotationDiff) State() *LastIPMap { return r.last }

// Diff observes each device once per tick. Later records repeating an id
// are reported as anomalies and ignored.
func (r *RotationDiff) Diff(_ context.Context, res deviceapi.PollResult) (Report, error) {
	var rep Report
	seen := make(map[deviceapi.DeviceID]struct{}, len(res.Devices))
	for i, d := range res.Devices {
		if !d.RotationEnabled() {
			continue
		}
		if _, dup := seen[d.ID]; dup {
			rep.Anomalies = append(rep.Anomalies, deviceapi.AnomalousRecord{Index: i, ID: d.ID, Name: d.Name, Reason: "duplicate id"})
			continue
		}
		seen[d.ID] = struct{}{}
		ip, ok := d.CurrentIP()
		if !ok {
			rep.Anomalies = append(rep.Anomalies, deviceapi.AnomalousRecord{Index: i, ID: d.ID, Name: d.Name, Reason: `no key "externalIp"`})
			continue
		}
		if r.last.Observe(d.ID, ip) == Unchanged {
			rep.Alerts = append(rep.Alerts, "IP not changed on device: "+d.Name)
		}
	}
	return rep, nil
}
