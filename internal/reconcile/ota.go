package reconcile

import (
	"sort"
	"sync"

	"github.com/benmeehan/iot-fleet/internal/constants"
)

// OTAState is what the client shows for one device's update cycle. Result is
// empty while the cycle is in flight.
type OTAState struct {
	DeviceID string            `json:"device_id"`
	Progress string            `json:"progress"`
	Result   constants.OTAKind `json:"result,omitempty"`
}

// OTATracker follows OTA cycles per device. A terminal result replaces any
// progress, and progress after a terminal result starts a new cycle.
type OTATracker struct {
	mu     sync.RWMutex
	states map[string]OTAState
}

// NewOTATracker creates an empty tracker.
func NewOTATracker() *OTATracker {
	return &OTATracker{states: make(map[string]OTAState)}
}

func (t *OTATracker) Progress(deviceID, progress string) {
	t.set(OTAState{DeviceID: deviceID, Progress: progress})
}

func (t *OTATracker) Success(deviceID string) {
	t.set(OTAState{DeviceID: deviceID, Progress: constants.OTALabelCompleted, Result: constants.OTAKindSuccess})
}

func (t *OTATracker) Error(deviceID string) {
	t.set(OTAState{DeviceID: deviceID, Progress: constants.OTALabelFailed, Result: constants.OTAKindError})
}

func (t *OTATracker) set(s OTAState) {
	t.mu.Lock()
	t.states[s.DeviceID] = s
	t.mu.Unlock()
}

func (t *OTATracker) Get(deviceID string) (OTAState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[deviceID]
	return s, ok
}

// All returns every tracked device ordered by id.
func (t *OTATracker) All() []OTAState {
	t.mu.RLock()
	out := make([]OTAState, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
