package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameToDelta(t *testing.T) {
	device := &models.PresenceRecord{DeviceID: "A", Status: "online", LastSeen: t0, Telemetry: map[string]any{"node": "emqx@1"}}

	tests := []struct {
		name        string
		frame       models.Frame
		wantOK      bool
		wantErr     bool
		wantChannel string
		wantEvent   string
		wantData    string
	}{
		{name: "connected", frame: models.Frame{Type: constants.FrameConnected, SubscriberID: "s1"}},
		{name: "keepalive", frame: models.Frame{Type: constants.FrameKeepalive}},
		{
			name: "initial", frame: models.Frame{Type: constants.FrameInitial, Devices: []models.PresenceRecord{*device}},
			wantOK: true, wantChannel: constants.ChannelDeviceStatus, wantEvent: EventSnapshot,
			wantData: `[{"device_id":"A","status":"online","last_seen":"2023-11-14T22:13:20Z","telemetry":{"node":"emqx@1"}}]`,
		},
		{
			name: "empty initial", frame: models.Frame{Type: constants.FrameInitial},
			wantOK: true, wantChannel: constants.ChannelDeviceStatus, wantEvent: EventSnapshot, wantData: `[]`,
		},
		{
			name: "device update", frame: models.Frame{Type: constants.FrameDeviceUpdate, Device: device},
			wantOK: true, wantChannel: constants.ChannelDeviceStatus, wantEvent: constants.EventStatusUpdate,
			wantData: `{"device_id":"A","status":"online","timestamp":"2023-11-14T22:13:20Z","telemetry":{"node":"emqx@1"}}`,
		},
		{
			name: "clear", frame: models.Frame{Type: constants.FrameClear, Timestamp: t0},
			wantOK: true, wantChannel: constants.ChannelDeviceStatus, wantEvent: constants.EventStatusClear,
			wantData: `{"timestamp":"2023-11-14T22:13:20Z"}`,
		},
		{
			name: "event", frame: models.Frame{Type: constants.FrameEvent, Channel: constants.ChannelDeviceOTAStatus, Event: constants.EventProgressUpdate, Data: json.RawMessage(`{"device_id":"A","progress":"55"}`)},
			wantOK: true, wantChannel: constants.ChannelDeviceOTAStatus, wantEvent: constants.EventProgressUpdate,
			wantData: `{"device_id":"A","progress":"55"}`,
		},
		{name: "update without device", frame: models.Frame{Type: constants.FrameDeviceUpdate}, wantErr: true},
		{name: "event without names", frame: models.Frame{Type: constants.FrameEvent}, wantErr: true},
		{name: "unknown", frame: models.Frame{Type: "bogus"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok, err := frameToDelta(tt.frame)

			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantChannel, d.Channel)
			assert.Equal(t, tt.wantEvent, d.Event)
			assert.JSONEq(t, tt.wantData, string(d.Data))
		})
	}
}
