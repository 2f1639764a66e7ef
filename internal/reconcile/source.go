package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
)

// EventSnapshot marks a delta carrying a full device list. Only the
// direct-push stream produces it, on every (re)connect.
const EventSnapshot = "snapshot"

var (
	// ErrConnectionLost is reported when a live subscription ends on its own.
	ErrConnectionLost = errors.New("live channel connection lost")
	errBadEnvelope    = errors.New("envelope without channel or event")
)

// Delta is one message received on the live channel.
type Delta struct {
	Channel string
	Event   string
	Data    json.RawMessage
}

// Source opens live subscriptions to the fanout channels.
type Source interface {
	Name() string
	// Subscribe connects and subscribes. It returns once the subscription
	// is live, or an error if it could not be established.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is one live session. Done is closed when the session ends,
// after which Err reports why (nil after Close).
type Subscription interface {
	Deltas() <-chan Delta
	Done() <-chan struct{}
	Err() error
	Close() error
}

type subscription struct {
	deltas chan Delta
	done   chan struct{}

	endOnce   sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	closeFn   func() error
}

func newSubscription(buffer int) *subscription {
	return &subscription{
		deltas: make(chan Delta, buffer),
		done:   make(chan struct{}),
	}
}

// push hands a delta to the consumer, giving up once the session ended.
func (s *subscription) push(d Delta) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.deltas <- d:
		return true
	case <-s.done:
		return false
	}
}

// end finishes the session with err. Only the first call counts.
func (s *subscription) end(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscription) Deltas() <-chan Delta {
	return s.deltas
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.end(nil)
	var err error
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}

// decodeEnvelope reads the relay wire format.
func decodeEnvelope(raw []byte) (Delta, error) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Delta{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Channel == "" || env.Event == "" {
		return Delta{}, errBadEnvelope
	}
	return Delta{Channel: env.Channel, Event: env.Event, Data: env.Data}, nil
}

// relayChannels lists the distinct channels clients listen on.
func relayChannels() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ce := range constants.SubscribedEvents {
		if _, ok := seen[ce.Channel]; ok {
			continue
		}
		seen[ce.Channel] = struct{}{}
		out = append(out, ce.Channel)
	}
	return out
}
