package subscribers

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/metrics"
	"github.com/benmeehan/iot-fleet/internal/models"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// Snapshotter supplies the presence snapshot sent to new subscribers.
type Snapshotter interface {
	List() []models.PresenceRecord
}

type entry struct {
	sub   Subscriber
	state atomic.Int32
}

func (e *entry) State() State {
	return State(e.state.Load())
}

// Registry tracks open direct-push subscribers and broadcasts frames to them.
// A subscriber whose send fails is closed and removed without affecting the
// others.
type Registry struct {
	entries  cmap.ConcurrentMap[string, *entry]
	snapshot Snapshotter
	metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(snapshot Snapshotter, m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		entries:  cmap.New[*entry](),
		snapshot: snapshot,
		metrics:  m,
		Logger:   logger.With().Str("component", "subscribers").Logger(),
	}
}

// Open performs the handshake (connection ack, then the full snapshot) and
// registers the subscriber. On failure the subscriber is closed and not
// registered.
func (r *Registry) Open(sub Subscriber) error {
	e := &entry{sub: sub}
	e.state.Store(int32(StateConnecting))

	ack, err := json.Marshal(models.ConnectedFrame{
		Type:         constants.FrameConnected,
		SubscriberID: sub.ID(),
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		_ = sub.Close()
		return fmt.Errorf("encode connected frame: %w", err)
	}
	initial, err := json.Marshal(models.NewInitialFrame(r.snapshot.List()))
	if err != nil {
		_ = sub.Close()
		return fmt.Errorf("encode initial frame: %w", err)
	}

	for _, frame := range [][]byte{ack, initial} {
		if err := sub.Send(frame); err != nil {
			_ = sub.Close()
			r.metrics.SubscriberDropped("handshake_failed")
			return fmt.Errorf("subscriber %s handshake: %w", sub.ID(), err)
		}
	}

	e.state.Store(int32(StateOpen))
	r.entries.Set(sub.ID(), e)
	r.metrics.SetSubscribers(r.entries.Count())
	r.Logger.Info().Str("subscriber_id", sub.ID()).Int("subscribers", r.entries.Count()).Msg("Subscriber opened")
	return nil
}

// Remove closes and deregisters a subscriber. Unknown or already removed ids
// are ignored.
func (r *Registry) Remove(id string) {
	r.remove(id, "")
}

func (r *Registry) remove(id, reason string) {
	e, ok := r.entries.Pop(id)
	if !ok {
		return
	}
	if State(e.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}
	if err := e.sub.Close(); err != nil {
		r.Logger.Debug().Err(err).Str("subscriber_id", id).Msg("Subscriber close returned error")
	}
	if reason != "" {
		r.metrics.SubscriberDropped(reason)
	}
	r.metrics.SetSubscribers(r.entries.Count())
	r.Logger.Info().Str("subscriber_id", id).Str("reason", reason).Int("subscribers", r.entries.Count()).Msg("Subscriber removed")
}

// Broadcast sends frame to every open subscriber and returns how many
// accepted it. Subscribers that fail are removed.
func (r *Registry) Broadcast(frame []byte) int {
	delivered := 0
	for id, e := range r.entries.Items() {
		if e.State() != StateOpen {
			continue
		}
		if err := e.sub.Send(frame); err != nil {
			reason := "send_failed"
			if errors.Is(err, ErrSlowConsumer) {
				reason = "slow_consumer"
			}
			r.Logger.Warn().Err(err).Str("subscriber_id", id).Msg("Dropping subscriber after failed send")
			r.remove(id, reason)
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastJSON encodes v and broadcasts it.
func (r *Registry) BroadcastJSON(v any) (int, error) {
	frame, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}
	return r.Broadcast(frame), nil
}

// State reports the lifecycle state of a subscriber id; unknown ids are closed.
func (r *Registry) State(id string) State {
	e, ok := r.entries.Get(id)
	if !ok {
		return StateClosed
	}
	return e.State()
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	return r.entries.Count()
}

// CloseAll closes and removes every subscriber.
func (r *Registry) CloseAll() {
	for _, id := range r.entries.Keys() {
		r.remove(id, "shutdown")
	}
}
