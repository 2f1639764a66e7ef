package services

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	count  int
	frames [][]byte
}

func (r *recordingBroadcaster) BroadcastJSON(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, b)
	return r.count, nil
}

func (r *recordingBroadcaster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *recordingBroadcaster) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

// TestKeepaliveService_Start_Success tests the start/stop lifecycle of the KeepaliveService.
func TestKeepaliveService_Start_Success(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// Setup
	k := NewKeepaliveService(time.Second, &recordingBroadcaster{}, zerolog.Nop())

	// Execute
	err := k.Start()

	// Assert
	assert.NoError(t, err)

	err = k.Start()
	assert.Error(t, err)
	assert.Equal(t, "keepalive service is already running", err.Error())

	assert.NoError(t, k.Stop())
	err = k.Stop()
	assert.Error(t, err)
	assert.Equal(t, "keepalive service is not running", err.Error())
}

func TestKeepaliveService_Start_InvalidInterval(t *testing.T) {
	k := NewKeepaliveService(0, &recordingBroadcaster{}, zerolog.Nop())

	assert.Error(t, k.Start())
}

// TestKeepaliveService_Broadcasts tests that keepalive frames reach subscribers.
func TestKeepaliveService_Broadcasts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// Setup
	b := &recordingBroadcaster{count: 2}
	k := NewKeepaliveService(20*time.Millisecond, b, zerolog.Nop())

	// Execute
	require.NoError(t, k.Start())
	assert.Eventually(t, func() bool { return len(b.Frames()) >= 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, k.Stop())

	// Assert
	var frame models.Frame
	require.NoError(t, json.Unmarshal(b.Frames()[0], &frame))
	assert.Equal(t, "keepalive", frame.Type)
	assert.False(t, frame.Timestamp.IsZero())
}

// TestKeepaliveService_SkipsWithoutSubscribers tests that nothing is sent to an empty registry.
func TestKeepaliveService_SkipsWithoutSubscribers(t *testing.T) {
	b := &recordingBroadcaster{}
	k := NewKeepaliveService(10*time.Millisecond, b, zerolog.Nop())

	require.NoError(t, k.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, k.Stop())

	assert.Empty(t, b.Frames())
}
