package models

import (
	"encoding/json"
	"time"
)

// StatusUpdate is published on device-status/status-update.
type StatusUpdate struct {
	DeviceID  string         `json:"device_id"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Telemetry map[string]any `json:"telemetry"`
}

// DeviceConnected is published on device-events/device-connected.
type DeviceConnected struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Telemetry map[string]any `json:"telemetry"`
}

// DeviceDisconnected is published on device-events/device-disconnected.
type DeviceDisconnected struct {
	DeviceID  string         `json:"device_id"`
	Reason    string         `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
	Telemetry map[string]any `json:"telemetry"`
}

// OTAProgress is published on device-ota-status/progress-update.
type OTAProgress struct {
	DeviceID string `json:"device_id"`
	Progress string `json:"progress"`
}

// OTAResult is published on device-ota-events for both terminal outcomes.
type OTAResult struct {
	DeviceID string `json:"device_id"`
}

// StatusClear is published on device-status/status-clear after a reset.
type StatusClear struct {
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the relay wire format. Data holds one of the payloads above.
type Envelope struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ToStatusUpdate converts a record into its status-update payload.
func (r PresenceRecord) ToStatusUpdate() StatusUpdate {
	telemetry := r.Telemetry
	if telemetry == nil {
		telemetry = map[string]any{}
	}
	return StatusUpdate{
		DeviceID:  r.DeviceID,
		Status:    r.Status,
		Timestamp: r.LastSeen,
		Telemetry: telemetry,
	}
}
