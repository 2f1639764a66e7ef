package fanout

import (
	"context"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/metrics"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/rs/zerolog"
)

// Notifier publishes the fleet's defined channel/event pairs through the
// configured backend. Every failure is logged, counted and returned; none is
// retried.
type Notifier struct {
	publisher Publisher
	timeout   time.Duration
	metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// NewNotifier wraps a publisher. A positive timeout bounds every publish.
func NewNotifier(publisher Publisher, timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		timeout:   timeout,
		metrics:   m,
		Logger:    logger.With().Str("component", "fanout").Str("backend", publisher.Backend()).Logger(),
	}
}

// Backend names the publisher strategy in use.
func (n *Notifier) Backend() string {
	return n.publisher.Backend()
}

func (n *Notifier) StatusUpdate(ctx context.Context, rec models.PresenceRecord) error {
	return n.publish(ctx, constants.ChannelDeviceStatus, constants.EventStatusUpdate, rec.ToStatusUpdate())
}

func (n *Notifier) StatusClear(ctx context.Context, at time.Time) error {
	return n.publish(ctx, constants.ChannelDeviceStatus, constants.EventStatusClear, models.StatusClear{Timestamp: at.UTC()})
}

func (n *Notifier) DeviceConnected(ctx context.Context, deviceID string, at time.Time, telemetry map[string]any) error {
	return n.publish(ctx, constants.ChannelDeviceEvents, constants.EventDeviceConnected, models.DeviceConnected{
		DeviceID:  deviceID,
		Timestamp: at,
		Telemetry: telemetry,
	})
}

func (n *Notifier) DeviceDisconnected(ctx context.Context, deviceID, reason string, at time.Time, telemetry map[string]any) error {
	return n.publish(ctx, constants.ChannelDeviceEvents, constants.EventDeviceDisconnected, models.DeviceDisconnected{
		DeviceID:  deviceID,
		Reason:    reason,
		Timestamp: at,
		Telemetry: telemetry,
	})
}

func (n *Notifier) OTAProgress(ctx context.Context, deviceID, progress string) error {
	return n.publish(ctx, constants.ChannelDeviceOTAStatus, constants.EventProgressUpdate, models.OTAProgress{
		DeviceID: deviceID,
		Progress: progress,
	})
}

func (n *Notifier) OTASuccess(ctx context.Context, deviceID string) error {
	return n.publish(ctx, constants.ChannelDeviceOTAEvents, constants.EventOTASuccess, models.OTAResult{DeviceID: deviceID})
}

func (n *Notifier) OTAError(ctx context.Context, deviceID string) error {
	return n.publish(ctx, constants.ChannelDeviceOTAEvents, constants.EventOTAError, models.OTAResult{DeviceID: deviceID})
}

// Close releases the backend.
func (n *Notifier) Close() error {
	return n.publisher.Close()
}

func (n *Notifier) publish(ctx context.Context, channel, event string, payload any) error {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	err := n.publisher.Publish(ctx, channel, event, payload)
	n.metrics.ObservePublish(n.publisher.Backend(), channel, event, err)
	if err != nil {
		n.Logger.Error().Err(err).Str("channel", channel).Str("event", event).Msg("Fanout publish failed")
		return err
	}
	n.Logger.Debug().Str("channel", channel).Str("event", event).Msg("Fanout published")
	return nil
}
