package models

import (
	"encoding/json"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
)

// ConnectedFrame acknowledges a new direct-push subscriber.
type ConnectedFrame struct {
	Type         string    `json:"type"`
	SubscriberID string    `json:"subscriber_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// InitialFrame carries the full presence snapshot.
type InitialFrame struct {
	Type    string           `json:"type"`
	Devices []PresenceRecord `json:"devices"`
}

// DeviceUpdateFrame carries one changed record.
type DeviceUpdateFrame struct {
	Type   string         `json:"type"`
	Device PresenceRecord `json:"device"`
}

// ClearFrame tells clients to drop their working set.
type ClearFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFrame forwards any other channel/event pair.
type EventFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    any    `json:"data"`
}

// KeepaliveFrame is sent periodically so dead transports surface.
type KeepaliveFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Frame is the decoding side of every direct-push frame.
type Frame struct {
	Type         string           `json:"type"`
	SubscriberID string           `json:"subscriber_id,omitempty"`
	Devices      []PresenceRecord `json:"devices,omitempty"`
	Device       *PresenceRecord  `json:"device,omitempty"`
	Channel      string           `json:"channel,omitempty"`
	Event        string           `json:"event,omitempty"`
	Data         json.RawMessage  `json:"data,omitempty"`
	Timestamp    time.Time        `json:"timestamp,omitempty"`
}

// NewInitialFrame builds the snapshot frame; devices is never encoded as null.
func NewInitialFrame(devices []PresenceRecord) InitialFrame {
	if devices == nil {
		devices = []PresenceRecord{}
	}
	return InitialFrame{Type: constants.FrameInitial, Devices: devices}
}
