package constants

// Fanout channels
const (
	ChannelDeviceStatus    = "device-status"
	ChannelDeviceEvents    = "device-events"
	ChannelDeviceOTAStatus = "device-ota-status"
	ChannelDeviceOTAEvents = "device-ota-events"
)

// Fanout events
const (
	EventStatusUpdate       = "status-update"
	EventStatusClear        = "status-clear"
	EventDeviceConnected    = "device-connected"
	EventDeviceDisconnected = "device-disconnected"
	EventProgressUpdate     = "progress-update"
	EventOTASuccess         = "ota-success"
	EventOTAError           = "ota-error"
)

// Fanout backends
const (
	BackendDirect = "direct"
	BackendNATS   = "nats"
	BackendRedis  = "redis"
	BackendMQTT   = "mqtt"
)

// ChannelEvent names one subscribable pair.
type ChannelEvent struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
}

// SubscribedEvents lists every pair a client subscribes to.
var SubscribedEvents = []ChannelEvent{
	{Channel: ChannelDeviceStatus, Event: EventStatusUpdate},
	{Channel: ChannelDeviceStatus, Event: EventStatusClear},
	{Channel: ChannelDeviceEvents, Event: EventDeviceConnected},
	{Channel: ChannelDeviceEvents, Event: EventDeviceDisconnected},
	{Channel: ChannelDeviceOTAStatus, Event: EventProgressUpdate},
	{Channel: ChannelDeviceOTAEvents, Event: EventOTASuccess},
	{Channel: ChannelDeviceOTAEvents, Event: EventOTAError},
}
