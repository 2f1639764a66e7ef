package services

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/fanout"
	"github.com/benmeehan/iot-fleet/internal/metrics"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/rs/zerolog"
)

// ErrInvalidStatus is returned by Override for anything but online/offline.
var ErrInvalidStatus = errors.New(`invalid status, must be "online" or "offline"`)

// StateStore is the presence state store.
type StateStore interface {
	Upsert(rec models.PresenceRecord) error
	Get(id string) (models.PresenceRecord, bool)
	List() []models.PresenceRecord
	Summary() models.Summary
	Clear()
}

// PresenceService applies normalized events to the state store and announces
// the resulting changes. Store and fanout failures are logged and never
// surface to the event source.
type PresenceService struct {
	store    StateStore
	notifier *fanout.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
	Logger   zerolog.Logger
}

// NewPresenceService initializes a new PresenceService.
func NewPresenceService(store StateStore, notifier *fanout.Notifier, m *metrics.Metrics, logger zerolog.Logger) *PresenceService {
	return &PresenceService{
		store:    store,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
		Logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// HandleConnection records a connect or disconnect and publishes the
// connection delta followed by the status update.
func (s *PresenceService) HandleConnection(ctx context.Context, ev models.ConnectionEvent) models.PresenceRecord {
	telemetry := ev.Telemetry()
	rec := models.PresenceRecord{
		DeviceID:  ev.DeviceID,
		Status:    ev.Status(),
		LastSeen:  ev.Timestamp,
		Telemetry: telemetry,
	}

	if err := s.store.Upsert(rec); err != nil {
		s.Logger.Error().Err(err).Str("device_id", ev.DeviceID).Msg("Failed to store presence record")
	}
	s.metrics.SetDevices(s.store.Summary())

	switch ev.Kind {
	case models.Connected:
		_ = s.notifier.DeviceConnected(ctx, ev.DeviceID, ev.Timestamp, telemetry)
	case models.Disconnected:
		_ = s.notifier.DeviceDisconnected(ctx, ev.DeviceID, ev.Reason, ev.Timestamp, telemetry)
	}
	_ = s.notifier.StatusUpdate(ctx, rec)

	s.Logger.Info().
		Str("device_id", ev.DeviceID).
		Str("client_id", ev.ClientID).
		Str("status", rec.Status).
		Msg("Device presence updated")
	return rec
}

// HandleOTA publishes an OTA report. The presence store is not touched.
func (s *PresenceService) HandleOTA(ctx context.Context, ev models.OTAEvent) {
	s.metrics.ObserveOTA(string(ev.Kind))

	switch ev.Kind {
	case constants.OTAKindProgress:
		_ = s.notifier.OTAProgress(ctx, ev.DeviceID, ev.Progress)
	case constants.OTAKindSuccess:
		_ = s.notifier.OTASuccess(ctx, ev.DeviceID)
	case constants.OTAKindError:
		_ = s.notifier.OTAError(ctx, ev.DeviceID)
	default:
		s.Logger.Warn().Str("device_id", ev.DeviceID).Str("kind", string(ev.Kind)).Msg("Unknown OTA kind dropped")
		return
	}

	s.Logger.Debug().Str("device_id", ev.DeviceID).Str("kind", string(ev.Kind)).Str("progress", ev.Progress).Msg("OTA report published")
}

// Override sets a device's status by hand. Existing telemetry is carried
// forward and data is merged over it. The result competes with organic
// events on a last-write-wins basis.
func (s *PresenceService) Override(ctx context.Context, deviceID, status string, data map[string]any) (models.PresenceRecord, error) {
	if status != constants.StatusOnline && status != constants.StatusOffline {
		return models.PresenceRecord{}, ErrInvalidStatus
	}

	telemetry := map[string]any{}
	if prev, ok := s.store.Get(deviceID); ok {
		maps.Copy(telemetry, prev.Telemetry)
	}
	maps.Copy(telemetry, data)
	telemetry[constants.TelemetryManualUpdate] = true

	rec := models.PresenceRecord{
		DeviceID:  deviceID,
		Status:    status,
		LastSeen:  s.now().UTC(),
		Telemetry: telemetry,
	}
	if err := s.store.Upsert(rec); err != nil {
		return models.PresenceRecord{}, err
	}
	s.metrics.SetDevices(s.store.Summary())

	_ = s.notifier.StatusUpdate(ctx, rec)

	s.Logger.Info().Str("device_id", deviceID).Str("status", status).Msg("Device status overridden")
	return rec, nil
}

// Snapshot returns every record together with the status counts.
func (s *PresenceService) Snapshot() ([]models.PresenceRecord, models.Summary) {
	return s.store.List(), s.store.Summary()
}

// Device returns a single record.
func (s *PresenceService) Device(deviceID string) (models.PresenceRecord, bool) {
	return s.store.Get(deviceID)
}

// Reset empties the store and tells subscribers to drop their view.
func (s *PresenceService) Reset(ctx context.Context) int {
	cleared := s.store.Summary().Total
	s.store.Clear()
	s.metrics.SetDevices(models.Summary{})

	_ = s.notifier.StatusClear(ctx, s.now())

	s.Logger.Warn().Int("cleared", cleared).Msg("Presence store reset")
	return cleared
}

// List satisfies the subscriber registry's snapshot source.
func (s *PresenceService) List() []models.PresenceRecord {
	return s.store.List()
}
