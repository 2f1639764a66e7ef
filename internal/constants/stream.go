package constants

// Direct-push frame types
const (
	FrameConnected    = "connected"
	FrameInitial      = "initial"
	FrameDeviceUpdate = "device_update"
	FrameClear        = "clear"
	FrameEvent        = "event"
	FrameKeepalive    = "keepalive"
)

// Service names used by the service registry
const (
	ServiceHTTP       = "http"
	ServiceKeepalive  = "keepalive"
	ServiceMQTTIngest = "mqtt-ingest"
	ServiceFirmware   = "firmware"
)

// HTTP middleware names
const (
	MiddlewareRecover     = "recover"
	MiddlewareLogger      = "logger"
	MiddlewareMetrics     = "metrics"
	MiddlewareWebhookAuth = "webhook-auth"
)
