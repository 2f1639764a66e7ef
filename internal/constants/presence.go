package constants

// DefaultDevicePrefix is the broker client identifier prefix carried by fleet devices.
const DefaultDevicePrefix = "ESP32-"

// Presence statuses
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Broker webhook event kinds
const (
	EventClientConnected    = "client.connected"
	EventClientDisconnected = "client.disconnected"
	EventMessagePublish     = "message.publish"
)

// DefaultDisconnectReason is reported when the broker omits a reason.
const DefaultDisconnectReason = "Unknown reason"

// DefaultIgnoredReasons are disconnect reasons caused by session churn.
var DefaultIgnoredReasons = []string{"discarded", "takenover"}

// Telemetry keys added by ingestion and manual overrides
const (
	TelemetryEventType    = "event_type"
	TelemetryReason       = "reason"
	TelemetryManualUpdate = "manual_update"
)

// Webhook response messages
const (
	MessageNonDeviceIgnored   = "Non-IoT device ignored"
	MessageReasonIgnored      = "Discarded event ignored"
	MessageUnsupportedIgnored = "Unsupported event ignored"
	MessageOTAReceived        = "OTA event received"
)
