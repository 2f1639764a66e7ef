package models

import (
	"maps"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
)

// WebhookEvent holds the discriminator fields of a broker callback.
// Everything else in the body is kept as raw attributes.
type WebhookEvent struct {
	Event     string    `json:"event" validate:"required"`
	ClientID  string    `json:"clientid" validate:"required"`
	Reason    string    `json:"reason,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Payload   []byte    `json:"-"`
	Timestamp time.Time `json:"-"`
}

// ConnectionKind distinguishes connect from disconnect.
type ConnectionKind string

const (
	Connected    ConnectionKind = "connected"
	Disconnected ConnectionKind = "disconnected"
)

// ConnectionEvent is a normalized broker connection callback.
type ConnectionEvent struct {
	DeviceID   string
	ClientID   string
	Kind       ConnectionKind
	Reason     string
	Timestamp  time.Time
	Attributes map[string]any
}

// Status maps the connection kind to a presence status.
func (e ConnectionEvent) Status() string {
	if e.Kind == Connected {
		return constants.StatusOnline
	}
	return constants.StatusOffline
}

// Telemetry is the map stored with the presence record and published with
// the event: the broker attributes plus the event type and, for a
// disconnect, the reason.
func (e ConnectionEvent) Telemetry() map[string]any {
	telemetry := make(map[string]any, len(e.Attributes)+2)
	maps.Copy(telemetry, e.Attributes)
	telemetry[constants.TelemetryEventType] = string(e.Kind)
	if e.Kind == Disconnected {
		telemetry[constants.TelemetryReason] = e.Reason
	}
	return telemetry
}

// OTAPayload is the JSON document devices publish on OTA topics.
type OTAPayload struct {
	ID       string   `json:"id" validate:"required"`
	Status   string   `json:"status" validate:"required"`
	Progress *float64 `json:"progress" validate:"required"`
}

// OTAEvent is a normalized OTA report.
type OTAEvent struct {
	DeviceID string
	Kind     constants.OTAKind
	Progress string
	Status   string
}
