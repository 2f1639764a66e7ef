package reconcile

import (
	"maps"
	"sort"
	"sync"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
)

// DeviceView is the client's working copy of fleet presence. Records are
// copied in and out.
type DeviceView struct {
	mu      sync.RWMutex
	devices map[string]models.PresenceRecord
}

// NewDeviceView creates an empty view.
func NewDeviceView() *DeviceView {
	return &DeviceView{devices: make(map[string]models.PresenceRecord)}
}

// ApplySnapshot replaces the working set.
func (v *DeviceView) ApplySnapshot(records []models.PresenceRecord) {
	next := make(map[string]models.PresenceRecord, len(records))
	for _, rec := range records {
		if rec.DeviceID == "" {
			continue
		}
		next[rec.DeviceID] = rec.Clone()
	}

	v.mu.Lock()
	v.devices = next
	v.mu.Unlock()
}

// ApplyStatusUpdate replaces status and timestamp and merges telemetry key by
// key into the existing record. Unknown devices are inserted.
func (v *DeviceView) ApplyStatusUpdate(u models.StatusUpdate) models.PresenceRecord {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.devices[u.DeviceID]
	if !ok {
		rec = models.PresenceRecord{DeviceID: u.DeviceID}
	}
	rec.Status = u.Status
	rec.LastSeen = u.Timestamp

	telemetry := maps.Clone(rec.Telemetry)
	if telemetry == nil && len(u.Telemetry) > 0 {
		telemetry = make(map[string]any, len(u.Telemetry))
	}
	maps.Copy(telemetry, u.Telemetry)
	rec.Telemetry = telemetry

	v.devices[u.DeviceID] = rec
	return rec.Clone()
}

// ApplyClear drops every record.
func (v *DeviceView) ApplyClear() {
	v.mu.Lock()
	v.devices = make(map[string]models.PresenceRecord)
	v.mu.Unlock()
}

// Device returns one record.
func (v *DeviceView) Device(id string) (models.PresenceRecord, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.devices[id]
	if !ok {
		return models.PresenceRecord{}, false
	}
	return rec.Clone(), true
}

// Devices returns every record, most recently seen first.
func (v *DeviceView) Devices() []models.PresenceRecord {
	v.mu.RLock()
	out := make([]models.PresenceRecord, 0, len(v.devices))
	for _, rec := range v.devices {
		out = append(out, rec.Clone())
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// Summary counts the working set by status.
func (v *DeviceView) Summary() models.Summary {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var sum models.Summary
	for _, rec := range v.devices {
		sum.Total++
		switch rec.Status {
		case constants.StatusOnline:
			sum.Online++
		case constants.StatusOffline:
			sum.Offline++
		}
	}
	return sum
}
