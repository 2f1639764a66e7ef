package subscribers

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	failOn int // fail the nth send (1-based); 0 never, -1 always
	sends  int
	closes int
	done   chan struct{}
}

func newFake(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id, done: make(chan struct{})}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.failOn == -1 || f.sends == f.failOn {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.closes == 1 {
		close(f.done)
	}
	return nil
}

func (f *fakeSubscriber) Done() <-chan struct{} { return f.done }

func (f *fakeSubscriber) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func (f *fakeSubscriber) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type staticSnapshot []models.PresenceRecord

func (s staticSnapshot) List() []models.PresenceRecord { return s }

func frameType(t *testing.T, raw []byte) models.Frame {
	t.Helper()
	var f models.Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func TestRegistry_OpenSendsAckThenSnapshot(t *testing.T) {
	snap := staticSnapshot{{DeviceID: "A", Status: "online", LastSeen: time.UnixMilli(1700000000000).UTC()}}
	r := NewRegistry(snap, nil, zerolog.Nop())
	sub := newFake("s1")

	require.NoError(t, r.Open(sub))

	frames := sub.received()
	require.Len(t, frames, 2)
	assert.Equal(t, constants.FrameConnected, frameType(t, frames[0]).Type)
	initial := frameType(t, frames[1])
	assert.Equal(t, constants.FrameInitial, initial.Type)
	require.Len(t, initial.Devices, 1)
	assert.Equal(t, "A", initial.Devices[0].DeviceID)
	assert.Equal(t, StateOpen, r.State("s1"))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_EmptySnapshotEncodesEmptyList(t *testing.T) {
	r := NewRegistry(staticSnapshot(nil), nil, zerolog.Nop())
	sub := newFake("s1")

	require.NoError(t, r.Open(sub))

	assert.JSONEq(t, `{"type":"initial","devices":[]}`, string(sub.received()[1]))
}

func TestRegistry_HandshakeFailureNotRegistered(t *testing.T) {
	r := NewRegistry(staticSnapshot(nil), nil, zerolog.Nop())
	sub := newFake("s1")
	sub.failOn = 2

	err := r.Open(sub)

	assert.Error(t, err)
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 1, sub.closeCount())
	assert.Equal(t, StateClosed, r.State("s1"))
}

func TestRegistry_BroadcastIsolatesFailingSubscriber(t *testing.T) {
	r := NewRegistry(staticSnapshot(nil), nil, zerolog.Nop())
	s1, s2, s3 := newFake("s1"), newFake("s2"), newFake("s3")
	for _, s := range []*fakeSubscriber{s1, s2, s3} {
		require.NoError(t, r.Open(s))
	}
	s2.mu.Lock()
	s2.failOn = -1
	s2.mu.Unlock()

	var delivered int
	assert.NotPanics(t, func() {
		delivered = r.Broadcast([]byte(`{"type":"device_update"}`))
	})

	assert.Equal(t, 2, delivered)
	assert.Len(t, s1.received(), 3)
	assert.Len(t, s3.received(), 3)
	assert.Equal(t, 1, s2.closeCount())
	assert.Equal(t, StateClosed, r.State("s2"))
	assert.Equal(t, 2, r.Count())

	// a removed subscriber never receives again
	r.Broadcast([]byte(`{"type":"clear"}`))
	assert.Len(t, s2.received(), 2)
	assert.Len(t, s1.received(), 4)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(staticSnapshot(nil), nil, zerolog.Nop())
	sub := newFake("s1")
	require.NoError(t, r.Open(sub))

	r.Remove("s1")
	r.Remove("s1")
	r.Remove("unknown")

	assert.Equal(t, 1, sub.closeCount())
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, r.Broadcast([]byte(`{}`)))
}

func TestRegistry_ConcurrentChurnDuringBroadcast(t *testing.T) {
	r := NewRegistry(staticSnapshot(nil), nil, zerolog.Nop())
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			_ = r.Open(newFake(id))
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
		go func() {
			defer wg.Done()
			r.Broadcast([]byte(`{"type":"keepalive"}`))
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, r.Count())
}

func TestRegistry_BroadcastJSONAndCloseAll(t *testing.T) {
	r := NewRegistry(staticSnapshot(nil), nil, zerolog.Nop())
	s1, s2 := newFake("s1"), newFake("s2")
	require.NoError(t, r.Open(s1))
	require.NoError(t, r.Open(s2))

	n, err := r.BroadcastJSON(models.ClearFrame{Type: constants.FrameClear})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	r.CloseAll()

	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 1, s1.closeCount())
	assert.Equal(t, 1, s2.closeCount())
}
