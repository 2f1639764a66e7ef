package models

import (
	"maps"
	"time"
)

// PresenceRecord is the last-known state of a single device.
type PresenceRecord struct {
	DeviceID  string         `json:"device_id"`
	Status    string         `json:"status"`
	LastSeen  time.Time      `json:"last_seen"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
}

// Clone returns a copy whose telemetry map is not shared with r.
func (r PresenceRecord) Clone() PresenceRecord {
	out := r
	if r.Telemetry != nil {
		out.Telemetry = maps.Clone(r.Telemetry)
	}
	return out
}

// Summary counts devices by presence status.
type Summary struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// OverrideRequest is the body of a manual presence override.
type OverrideRequest struct {
	DeviceID string         `json:"device_id" validate:"required"`
	Status   string         `json:"status" validate:"required,oneof=online offline"`
	Data     map[string]any `json:"data,omitempty"`
}
