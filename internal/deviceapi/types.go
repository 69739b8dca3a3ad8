package deviceapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// DeviceID is the provider's device identifier. The API sends either a JSON
// string or a number; both normalize to the same string form.
type DeviceID string

func (id *DeviceID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = DeviceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = DeviceID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = DeviceID(n.String())
	return nil
}

// Device is one record of the "result" array. Optional fields are pointers:
// nil means the key was absent or null.
type Device struct {
	ID              DeviceID `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Online          *bool    `json:"online"`
	ExternalIP      *string  `json:"externalIp"`
	IPChangeEnabled *bool    `json:"ipChangeEnabled"`
}

// Label is the display form used in alerts: "name - description".
func (d Device) Label() string { return d.Name + " - " + d.Description }

// RotationEnabled reports whether the device takes part in the rotation
// check. Only an explicit false opts out.
func (d Device) RotationEnabled() bool {
	return d.IPChangeEnabled == nil || *d.IPChangeEnabled
}

// CurrentIP returns the external IP and whether it is known (present and
// non-empty).
func (d Device) CurrentIP() (string, bool) {
	if d.ExternalIP == nil || *d.ExternalIP == "" {
		return "", false
	}
	return *d.ExternalIP, true
}

// AnomalousRecord describes a record that was skipped or a device missing
// a field a check needed.
type AnomalousRecord struct {
	Index  int
	ID     DeviceID
	Name   string
	Reason string
}

func (a AnomalousRecord) String() string {
	if a.ID != "" {
		return fmt.Sprintf("record %d (id %s): %s", a.Index, a.ID, a.Reason)
	}
	return fmt.Sprintf("record %d: %s", a.Index, a.Reason)
}

// PollResult is the validated device list of one fetch, in API order.
type PollResult struct {
	Devices   []Device
	Anomalies []AnomalousRecord
}
