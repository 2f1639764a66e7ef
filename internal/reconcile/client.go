package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog"
)

// ErrReconnectExhausted is reported to listeners when the live channel could
// not be re-established within the retry budget.
var ErrReconnectExhausted = errors.New("live channel reconnect attempts exhausted")

// ConnState is the live channel state shown to users.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Backoff bounds reconnect attempts. Delays double from Initial up to Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoff waits 1s, 2s, 4s, 8s and 16s between attempts.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 16 * time.Second, MaxRetries: 5}

// Change is passed to listeners after a state transition or an applied delta.
type Change struct {
	State ConnState
	Delta *Delta
	Err   error
}

// Listener observes client changes. Listeners run on the Run goroutine and
// must not block.
type Listener func(Change)

// SnapshotFetcher supplies the initial device list.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context) ([]models.PresenceRecord, error)
}

// Client keeps a DeviceView and OTATracker in sync with the server: one
// snapshot at start, then live deltas. Deltas are applied on the Run
// goroutine only.
type Client struct {
	source   Source
	snapshot SnapshotFetcher
	backoff  Backoff
	view     *DeviceView
	ota      *OTATracker
	state    atomic.Int32

	mu        sync.Mutex
	listeners []Listener

	Logger zerolog.Logger
}

// NewClient creates a Client. snapshot may be nil when the source delivers
// its own snapshot. Zero backoff fields take DefaultBackoff values and a
// negative MaxRetries disables retries.
func NewClient(source Source, snapshot SnapshotFetcher, backoff Backoff, logger zerolog.Logger) *Client {
	if backoff.Initial <= 0 {
		backoff.Initial = DefaultBackoff.Initial
	}
	if backoff.Max < backoff.Initial {
		backoff.Max = max(DefaultBackoff.Max, backoff.Initial)
	}
	switch {
	case backoff.MaxRetries == 0:
		backoff.MaxRetries = DefaultBackoff.MaxRetries
	case backoff.MaxRetries < 0:
		backoff.MaxRetries = 0
	}
	return &Client{
		source:   source,
		snapshot: snapshot,
		backoff:  backoff,
		view:     NewDeviceView(),
		ota:      NewOTATracker(),
		Logger:   logger.With().Str("component", "reconcile").Str("source", source.Name()).Logger(),
	}
}

// OnChange registers a listener.
func (c *Client) OnChange(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) View() *DeviceView {
	return c.view
}

func (c *Client) OTA() *OTATracker {
	return c.ota
}

// Run fetches the snapshot and then follows the live channel until ctx ends.
// A failed snapshot leaves the view empty. Every reconnect refetches the
// snapshot so changes missed while offline are recovered. When the retry
// budget runs out the state becomes disconnected, the view is kept and Run
// returns nil. A session that connected restores the full budget.
func (c *Client) Run(ctx context.Context) error {
	c.seed(ctx, "Initial snapshot failed, starting with an empty view")

	policy := retrypolicy.NewBuilder[Subscription]().
		WithBackoff(c.backoff.Initial, c.backoff.Max).
		WithMaxRetries(c.backoff.MaxRetries).
		OnRetry(func(e failsafe.ExecutionEvent[Subscription]) {
			c.Logger.Warn().Err(e.LastError()).Int("attempt", e.Attempts()).Msg("Retrying live channel subscription")
		}).
		Build()

	c.setState(StateConnecting, nil)
	for sessions := 0; ; sessions++ {
		sub, err := failsafe.With[Subscription](policy).WithContext(ctx).Get(func() (Subscription, error) {
			return c.source.Subscribe(ctx)
		})
		if ctx.Err() != nil {
			if sub != nil {
				_ = sub.Close()
			}
			c.setState(StateIdle, nil)
			return ctx.Err()
		}
		if err != nil {
			err = fmt.Errorf("%w after %d retries: %w", ErrReconnectExhausted, c.backoff.MaxRetries, err)
			c.Logger.Error().Err(err).Msg("Giving up on the live channel, keeping the last known view")
			c.setState(StateDisconnected, err)
			return nil
		}

		if sessions > 0 {
			c.seed(ctx, "Snapshot after reconnect failed, keeping the last known view")
		}
		c.setState(StateConnected, nil)
		err = c.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			c.setState(StateIdle, nil)
			return ctx.Err()
		}
		c.Logger.Warn().Err(err).Msg("Live channel lost, reconnecting")
		c.setState(StateReconnecting, err)
	}
}

// seed replaces the view with a fresh snapshot. On failure the view is left
// as it is.
func (c *Client) seed(ctx context.Context, failMsg string) {
	if c.snapshot == nil {
		return
	}
	records, err := c.snapshot.Snapshot(ctx)
	if err != nil {
		c.Logger.Warn().Err(err).Msg(failMsg)
		return
	}
	c.view.ApplySnapshot(records)
	c.notify(Change{State: c.State(), Delta: &Delta{Channel: constants.ChannelDeviceStatus, Event: EventSnapshot}})
	c.Logger.Info().Int("devices", len(records)).Msg("Snapshot applied")
}

func (c *Client) consume(ctx context.Context, sub Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-sub.Deltas():
			c.apply(d)
		case <-sub.Done():
			c.drain(sub)
			if err := sub.Err(); err != nil {
				return err
			}
			return ErrConnectionLost
		}
	}
}

// drain applies deltas that were buffered before the session ended.
func (c *Client) drain(sub Subscription) {
	for {
		select {
		case d := <-sub.Deltas():
			c.apply(d)
		default:
			return
		}
	}
}

// apply merges one delta. Undecodable payloads are dropped.
func (c *Client) apply(d Delta) {
	log := c.Logger.With().Str("channel", d.Channel).Str("event", d.Event).Logger()

	var err error
	switch {
	case d.Channel == constants.ChannelDeviceStatus && d.Event == EventSnapshot:
		var records []models.PresenceRecord
		if err = json.Unmarshal(d.Data, &records); err == nil {
			c.view.ApplySnapshot(records)
		}

	case d.Channel == constants.ChannelDeviceStatus && d.Event == constants.EventStatusUpdate:
		var u models.StatusUpdate
		if err = json.Unmarshal(d.Data, &u); err == nil {
			if u.DeviceID == "" {
				err = errors.New("status update without device_id")
			} else {
				c.view.ApplyStatusUpdate(u)
			}
		}

	case d.Channel == constants.ChannelDeviceStatus && d.Event == constants.EventStatusClear:
		c.view.ApplyClear()

	case d.Channel == constants.ChannelDeviceEvents &&
		(d.Event == constants.EventDeviceConnected || d.Event == constants.EventDeviceDisconnected):
		// Informational; status-update carries the authoritative change.

	case d.Channel == constants.ChannelDeviceOTAStatus && d.Event == constants.EventProgressUpdate:
		var p models.OTAProgress
		if err = json.Unmarshal(d.Data, &p); err == nil {
			if p.DeviceID == "" {
				err = errors.New("progress update without device_id")
			} else {
				c.ota.Progress(p.DeviceID, p.Progress)
			}
		}

	case d.Channel == constants.ChannelDeviceOTAEvents &&
		(d.Event == constants.EventOTASuccess || d.Event == constants.EventOTAError):
		var r models.OTAResult
		if err = json.Unmarshal(d.Data, &r); err == nil {
			switch {
			case r.DeviceID == "":
				err = errors.New("ota result without device_id")
			case d.Event == constants.EventOTASuccess:
				c.ota.Success(r.DeviceID)
			default:
				c.ota.Error(r.DeviceID)
			}
		}

	default:
		log.Debug().Msg("Ignoring unsubscribed delta")
		return
	}

	if err != nil {
		log.Warn().Err(err).RawJSON("data", rawOrNull(d.Data)).Msg("Dropping invalid delta")
		return
	}
	c.notify(Change{State: c.State(), Delta: &d})
}

func (c *Client) setState(s ConnState, err error) {
	prev := ConnState(c.state.Swap(int32(s)))
	if prev != s {
		c.Logger.Info().Stringer("from", prev).Stringer("to", s).Msg("Live channel state changed")
	}
	c.notify(Change{State: s, Err: err})
}

func (c *Client) notify(ch Change) {
	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l(ch)
	}
}

func rawOrNull(b json.RawMessage) []byte {
	if !json.Valid(b) {
		return []byte("null")
	}
	return b
}
