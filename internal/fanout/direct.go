package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/rs/zerolog"
)

// Broadcaster is the local subscriber registry seen from the publisher.
type Broadcaster interface {
	Broadcast(frame []byte) int
}

// DirectPublisher pushes frames straight to locally connected subscribers.
// Per-subscriber failures are handled by the registry and never reach the
// caller.
type DirectPublisher struct {
	registry Broadcaster
	now      func() time.Time
	Logger   zerolog.Logger
}

// NewDirectPublisher creates a publisher over the subscriber registry.
func NewDirectPublisher(registry Broadcaster, logger zerolog.Logger) *DirectPublisher {
	return &DirectPublisher{
		registry: registry,
		now:      time.Now,
		Logger:   logger.With().Str("backend", constants.BackendDirect).Logger(),
	}
}

func (p *DirectPublisher) Publish(_ context.Context, channel, event string, payload any) error {
	frame, err := json.Marshal(p.frame(channel, event, payload))
	if err != nil {
		return fmt.Errorf("encode %s/%s frame: %w", channel, event, err)
	}
	n := p.registry.Broadcast(frame)
	p.Logger.Debug().Str("channel", channel).Str("event", event).Int("delivered", n).Msg("Frame broadcast")
	return nil
}

// frame maps a channel/event pair onto the direct-push frame vocabulary.
func (p *DirectPublisher) frame(channel, event string, payload any) any {
	switch {
	case channel == constants.ChannelDeviceStatus && event == constants.EventStatusUpdate:
		if su, ok := payload.(models.StatusUpdate); ok {
			return models.DeviceUpdateFrame{
				Type: constants.FrameDeviceUpdate,
				Device: models.PresenceRecord{
					DeviceID:  su.DeviceID,
					Status:    su.Status,
					LastSeen:  su.Timestamp,
					Telemetry: su.Telemetry,
				},
			}
		}
	case channel == constants.ChannelDeviceStatus && event == constants.EventStatusClear:
		return models.ClearFrame{Type: constants.FrameClear, Timestamp: p.now().UTC()}
	}
	return models.EventFrame{
		Type:    constants.FrameEvent,
		Channel: channel,
		Event:   event,
		Data:    payload,
	}
}

func (p *DirectPublisher) Backend() string {
	return constants.BackendDirect
}

func (p *DirectPublisher) Close() error {
	return nil
}
