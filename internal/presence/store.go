package presence

import (
	"errors"
	"sort"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// ErrEmptyDeviceID is returned when a record has no device identity.
var ErrEmptyDeviceID = errors.New("presence record has an empty device id")

// Store is the in-memory map of device id to last-known presence.
//
// Upsert replaces the whole record; concurrent writers for the same device
// race with last-writer-wins. Records are copied in and out so callers never
// share telemetry maps with the store.
type Store struct {
	records cmap.ConcurrentMap[string, models.PresenceRecord]
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{records: cmap.New[models.PresenceRecord]()}
}

// Upsert replaces the stored record for rec.DeviceID.
func (s *Store) Upsert(rec models.PresenceRecord) error {
	if rec.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	s.records.Set(rec.DeviceID, rec.Clone())
	return nil
}

// Get returns the record for id, if any.
func (s *Store) Get(id string) (models.PresenceRecord, bool) {
	rec, ok := s.records.Get(id)
	if !ok {
		return models.PresenceRecord{}, false
	}
	return rec.Clone(), true
}

// List returns every record, most recently seen first, ties broken by device id.
func (s *Store) List() []models.PresenceRecord {
	items := s.records.Items()
	out := make([]models.PresenceRecord, 0, len(items))
	for _, rec := range items {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// Summary counts the stored records by status.
func (s *Store) Summary() models.Summary {
	var sum models.Summary
	for item := range s.records.IterBuffered() {
		sum.Total++
		switch item.Val.Status {
		case constants.StatusOnline:
			sum.Online++
		case constants.StatusOffline:
			sum.Offline++
		}
	}
	return sum
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return s.records.Count()
}

// Clear wipes every record.
func (s *Store) Clear() {
	for _, id := range s.records.Keys() {
		s.records.Remove(id)
	}
}
