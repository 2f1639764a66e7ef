package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/middlewares/httpmw"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const webhookPath = "/api/emqx/webhook"

func TestWebhook_ConnectedDevice(t *testing.T) {
	// Setup
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, constants.ChannelDeviceEvents, constants.EventDeviceConnected, mock.Anything).Return(nil).Once()
	pub.On("Publish", mock.Anything, constants.ChannelDeviceStatus, constants.EventStatusUpdate,
		mock.MatchedBy(func(p models.StatusUpdate) bool { return p.DeviceID == "ABC123" && p.Status == "online" })).Return(nil).Once()
	f := newFixture(t, pub, nil)

	// Execute
	rr := f.do(http.MethodPost, webhookPath, `{"event":"client.connected","clientid":"ESP32-ABC123","timestamp":1700000000000,"proto_ver":4}`)

	// Assert
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[map[string]any](t, rr)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "ABC123", resp["device_id"])
	assert.Equal(t, "online", resp["status"])
	assert.NotEmpty(t, resp["timestamp"])

	rec, ok := f.store.Get("ABC123")
	require.True(t, ok)
	assert.Equal(t, "online", rec.Status)
	assert.True(t, rec.LastSeen.Equal(time.UnixMilli(1700000000000)))
	assert.Equal(t, float64(4), rec.Telemetry["proto_ver"])

	pub.AssertExpectations(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WebhookEvents.WithLabelValues("connection", "accepted")))
}

func TestWebhook_DisconnectedDevice(t *testing.T) {
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f := newFixture(t, pub, nil)

	rr := f.do(http.MethodPost, webhookPath, `{"event":"client.disconnected","clientid":"ESP32-ABC123","reason":"keepalive_timeout","timestamp":1700000000000}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "offline", decode[map[string]any](t, rr)["status"])
	rec, _ := f.store.Get("ABC123")
	assert.Equal(t, "keepalive_timeout", rec.Telemetry["reason"])
	assert.Equal(t, []string{"device-events/device-disconnected", "device-status/status-update"}, published(pub))
}

func TestWebhook_NonDeviceIgnored(t *testing.T) {
	pub := newMockPublisher()
	f := newFixture(t, pub, nil)

	rr := f.do(http.MethodPost, webhookPath, `{"event":"client.connected","clientid":"backend-service-1","timestamp":1700000000000}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"message":"Non-IoT device ignored","device_id":"backend-service-1"}`, rr.Body.String())
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, published(pub))
}

func TestWebhook_IgnoredReason(t *testing.T) {
	for _, reason := range []string{"discarded", "takenover"} {
		t.Run(reason, func(t *testing.T) {
			pub := newMockPublisher()
			f := newFixture(t, pub, nil)

			body := fmt.Sprintf(`{"event":"client.disconnected","clientid":"ESP32-ABC123","reason":%q}`, reason)
			rr := f.do(http.MethodPost, webhookPath, body)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "Discarded event ignored", decode[map[string]any](t, rr)["message"])
			assert.Equal(t, 0, f.store.Len())
			assert.Empty(t, published(pub))
		})
	}
}

func TestWebhook_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `not json`},
		{"empty object", `{}`},
		{"missing clientid", `{"event":"client.connected"}`},
		{"missing event", `{"clientid":"ESP32-ABC123"}`},
		{"array", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newMockPublisher()
			f := newFixture(t, pub, nil)

			rr := f.do(http.MethodPost, webhookPath, tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.JSONEq(t, `{"error":"Invalid WebHook event format"}`, rr.Body.String())
			assert.Empty(t, published(pub))
		})
	}
}

func TestWebhook_OTAProgress(t *testing.T) {
	// Setup
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, constants.ChannelDeviceOTAStatus, constants.EventProgressUpdate,
		models.OTAProgress{DeviceID: "ABC123", Progress: "55"}).Return(nil).Once()
	f := newFixture(t, pub, nil)

	// Execute
	rr := f.do(http.MethodPost, webhookPath,
		`{"event":"message.publish","clientid":"ESP32-ABC123","topic":"ota/progress","payload":"{\"id\":\"ABC123\",\"status\":\"OTA Progress\",\"progress\":55}"}`)

	// Assert
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"message":"OTA event received"}`, rr.Body.String())
	assert.Equal(t, 0, f.store.Len())
	pub.AssertExpectations(t)
}

func TestWebhook_OTAInvalidPayloadDropped(t *testing.T) {
	payloads := []string{
		`"not json"`,
		`"{\"status\":\"OTA Progress\",\"progress\":5}"`,
		`"{\"id\":\"ABC123\",\"status\":\"OTA Progress\"}"`,
		`"{\"id\":\"ABC123\",\"status\":\"OTA Progress\",\"progress\":\"55\"}"`,
	}
	for _, payload := range payloads {
		pub := newMockPublisher()
		f := newFixture(t, pub, nil)

		rr := f.do(http.MethodPost, webhookPath, `{"event":"message.publish","clientid":"ESP32-ABC123","topic":"ota","payload":`+payload+`}`)

		assert.Equal(t, http.StatusOK, rr.Code, payload)
		assert.Empty(t, published(pub), payload)
	}
}

func TestWebhook_FanoutFailureStillSucceeds(t *testing.T) {
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("relay unavailable"))
	f := newFixture(t, pub, nil)

	rr := f.do(http.MethodPost, webhookPath, `{"event":"client.connected","clientid":"ESP32-ABC123","timestamp":1700000000000}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	_, ok := f.store.Get("ABC123")
	assert.True(t, ok)
}

func TestWebhook_Idempotent(t *testing.T) {
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f := newFixture(t, pub, nil)
	body := `{"event":"client.connected","clientid":"ESP32-ABC123","timestamp":1700000000000,"node":"emqx@10.0.0.1"}`

	f.do(http.MethodPost, webhookPath, body)
	first, _ := f.store.Get("ABC123")
	f.do(http.MethodPost, webhookPath, body)
	second, _ := f.store.Get("ABC123")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.store.Len())
}

func TestOTAWebhook(t *testing.T) {
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, constants.ChannelDeviceOTAEvents, constants.EventOTASuccess, models.OTAResult{DeviceID: "ABC123"}).Return(nil).Once()
	f := newFixture(t, pub, nil)

	rr := f.do(http.MethodPost, "/api/emqx/webhook/events/ota",
		`{"event":"message.publish","clientid":"ESP32-ABC123","payload":"{\"id\":\"ABC123\",\"status\":\"OTA Success\",\"progress\":100}"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	pub.AssertExpectations(t)
}

func TestOTAWebhook_RejectsOtherEvents(t *testing.T) {
	pub := newMockPublisher()
	f := newFixture(t, pub, nil)

	rr := f.do(http.MethodPost, "/api/emqx/webhook/events/ota", `{"event":"client.connected","clientid":"ESP32-ABC123"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Event is not a message.publish event or has invalid format", decode[map[string]any](t, rr)["error"])
	assert.Equal(t, 0, f.store.Len())
}

func TestWebhook_RequiresTokenWhenConfigured(t *testing.T) {
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f := newFixture(t, pub, []httpmw.Middleware{httpmw.WebhookAuth("hook-secret", zerolog.Nop())})
	body := `{"event":"client.connected","clientid":"ESP32-ABC123"}`

	rr := f.do(http.MethodPost, webhookPath, body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "emqx"}).SignedString([]byte("hook-secret"))
	require.NoError(t, err)
	req := newJSONRequest(http.MethodPost, webhookPath, body)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = serve(f, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Non-webhook routes are not guarded.
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/devices/status", nil).Code)
}
