package ingress

import (
	"errors"
	"testing"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/pkg/identity"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestDecoder(opts Options) *Decoder {
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return NewDecoder(identity.NewResolver(constants.DefaultDevicePrefix), opts, zerolog.Nop())
}

func TestDecoder_Connected(t *testing.T) {
	d := newTestDecoder(Options{})

	res, err := d.Decode([]byte(`{"event":"client.connected","clientid":"ESP32-ABC123","timestamp":1700000000000,"proto_ver":4}`))

	require.NoError(t, err)
	assert.Equal(t, KindConnection, res.Kind)
	assert.Equal(t, "ABC123", res.DeviceID)
	ce := res.Connection
	assert.Equal(t, models.Connected, ce.Kind)
	assert.Equal(t, constants.StatusOnline, ce.Status())
	assert.True(t, ce.Timestamp.Equal(time.UnixMilli(1700000000000)))
	assert.Equal(t, float64(4), ce.Attributes["proto_ver"])
	assert.NotContains(t, ce.Attributes, "event")
	assert.NotContains(t, ce.Attributes, "clientid")
	assert.Empty(t, ce.Reason)
	assert.Equal(t, "connected", ce.Telemetry()[constants.TelemetryEventType])
	assert.NotContains(t, ce.Telemetry(), constants.TelemetryReason)
}

func TestDecoder_DisconnectedKeepsReason(t *testing.T) {
	d := newTestDecoder(Options{})

	res, err := d.Decode([]byte(`{"event":"client.disconnected","clientid":"ESP32-ABC123","reason":"keepalive_timeout","timestamp":1700000000500}`))

	require.NoError(t, err)
	require.Equal(t, KindConnection, res.Kind)
	assert.Equal(t, models.Disconnected, res.Connection.Kind)
	assert.Equal(t, constants.StatusOffline, res.Connection.Status())
	assert.Equal(t, "keepalive_timeout", res.Connection.Reason)
	assert.Equal(t, "keepalive_timeout", res.Connection.Telemetry()[constants.TelemetryReason])
}

func TestDecoder_DisconnectedDefaultReason(t *testing.T) {
	d := newTestDecoder(Options{})

	res, err := d.Decode([]byte(`{"event":"client.disconnected","clientid":"ESP32-ABC123"}`))

	require.NoError(t, err)
	assert.Equal(t, constants.DefaultDisconnectReason, res.Connection.Reason)
	assert.Equal(t, fixedNow, res.Connection.Timestamp)
}

func TestDecoder_NonDeviceIgnored(t *testing.T) {
	d := newTestDecoder(Options{})

	res, err := d.Decode([]byte(`{"event":"client.connected","clientid":"backend-service-1"}`))

	require.NoError(t, err)
	assert.Equal(t, KindIgnored, res.Kind)
	assert.Equal(t, constants.MessageNonDeviceIgnored, res.Message)
	assert.Equal(t, "backend-service-1", res.DeviceID)
}

func TestDecoder_IgnoredReasons(t *testing.T) {
	d := newTestDecoder(Options{})

	for _, reason := range []string{"discarded", "takenover"} {
		res, err := d.Decode([]byte(`{"event":"client.disconnected","clientid":"ESP32-ABC123","reason":"` + reason + `"}`))

		require.NoError(t, err)
		assert.Equal(t, KindIgnored, res.Kind, reason)
		assert.Equal(t, constants.MessageReasonIgnored, res.Message)
	}
}

func TestDecoder_CustomIgnoredReasons(t *testing.T) {
	d := newTestDecoder(Options{IgnoredReasons: []string{"kicked"}})

	res, err := d.Decode([]byte(`{"event":"client.disconnected","clientid":"ESP32-A","reason":"takenover"}`))
	require.NoError(t, err)
	assert.Equal(t, KindConnection, res.Kind)

	res, err = d.Decode([]byte(`{"event":"client.disconnected","clientid":"ESP32-A","reason":"kicked"}`))
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, res.Kind)
}

func TestDecoder_Malformed(t *testing.T) {
	d := newTestDecoder(Options{})

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "missing event", body: `{"clientid":"ESP32-A"}`, field: "event"},
		{name: "missing clientid", body: `{"event":"client.connected"}`, field: "clientid"},
		{name: "clientid wrong type", body: `{"event":"client.connected","clientid":42}`, field: "clientid"},
		{name: "not json", body: `event=client.connected`},
		{name: "not an object", body: `[1,2]`},
		{name: "null", body: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode([]byte(tt.body))

			require.ErrorIs(t, err, ErrMalformed)
			if tt.field != "" {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.field, verr.Field)
				assert.Equal(t, "required", verr.Reason)
			}
		})
	}
}

func TestDecoder_UnsupportedEventIgnored(t *testing.T) {
	d := newTestDecoder(Options{})

	res, err := d.Decode([]byte(`{"event":"session.subscribed","clientid":"ESP32-A"}`))

	require.NoError(t, err)
	assert.Equal(t, KindIgnored, res.Kind)
	assert.Equal(t, constants.MessageUnsupportedIgnored, res.Message)
}

func TestDecoder_OTAProgress(t *testing.T) {
	d := newTestDecoder(Options{})

	res, err := d.Decode([]byte(`{"event":"message.publish","clientid":"ESP32-ABC123","topic":"ota/progress","payload":"{\"id\":\"ABC123\",\"status\":\"OTA Progress\",\"progress\":55}"}`))

	require.NoError(t, err)
	assert.Equal(t, KindOTA, res.Kind)
	assert.Equal(t, models.OTAEvent{
		DeviceID: "ABC123",
		Kind:     constants.OTAKindProgress,
		Progress: "55",
		Status:   constants.OTAStatusProgress,
	}, res.OTA)
}

func TestDecoder_OTAObjectPayload(t *testing.T) {
	d := newTestDecoder(Options{})

	res, err := d.Decode([]byte(`{"event":"message.publish","clientid":"ESP32-A","payload":{"id":"A","status":"OTA Success","progress":100}}`))

	require.NoError(t, err)
	assert.Equal(t, constants.OTAKindSuccess, res.OTA.Kind)
}

func TestDecoder_OTAStatusMapping(t *testing.T) {
	tests := []struct {
		status string
		strict bool
		want   constants.OTAKind
		drop   bool
	}{
		{status: "OTA Progress", want: constants.OTAKindProgress},
		{status: "OTA Success", want: constants.OTAKindSuccess},
		{status: "OTA Error", want: constants.OTAKindError},
		{status: "OTA Failed", want: constants.OTAKindError},
		{status: "Rebooting", want: constants.OTAKindError},
		{status: "Rebooting", strict: true, drop: true},
		{status: "OTA Error", strict: true, want: constants.OTAKindError},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			d := newTestDecoder(Options{StrictOTAStatus: tt.strict})

			evt, err := d.DecodeOTAPayload([]byte(`{"id":"A","status":"` + tt.status + `","progress":12.5}`))

			if tt.drop {
				var perr *PayloadError
				require.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, evt.Kind)
			assert.Equal(t, "12.5", evt.Progress)
		})
	}
}

func TestDecoder_OTAInvalidPayloadDropped(t *testing.T) {
	d := newTestDecoder(Options{})

	payloads := []string{
		`not json`,
		`{"id":"A","status":"OTA Progress"}`,
		`{"status":"OTA Progress","progress":1}`,
		`{"id":"A","progress":1}`,
		`{"id":"A","status":"OTA Progress","progress":"55"}`,
		``,
	}

	for _, p := range payloads {
		_, err := d.DecodeOTAPayload([]byte(p))

		var perr *PayloadError
		assert.ErrorAs(t, err, &perr, p)
		assert.NotErrorIs(t, err, ErrMalformed)
	}
}

func TestDecoder_OTAZeroProgressAccepted(t *testing.T) {
	d := newTestDecoder(Options{})

	evt, err := d.DecodeOTAPayload([]byte(`{"id":"A","status":"OTA Progress","progress":0}`))

	require.NoError(t, err)
	assert.Equal(t, "0", evt.Progress)
}

func TestDecoder_DecodePublishRejectsOtherEvents(t *testing.T) {
	d := newTestDecoder(Options{})

	_, err := d.DecodePublish([]byte(`{"event":"client.connected","clientid":"ESP32-A"}`))

	assert.ErrorIs(t, err, ErrNotPublish)
}

func TestDecoder_StringTimestamp(t *testing.T) {
	d := newTestDecoder(Options{})

	res, err := d.Decode([]byte(`{"event":"client.connected","clientid":"ESP32-A","timestamp":"1700000000000"}`))

	require.NoError(t, err)
	assert.True(t, res.Connection.Timestamp.Equal(time.UnixMilli(1700000000000)))
}
