package subscribers

import "errors"

var (
	// ErrClosed is returned by Send once a subscriber has been closed.
	ErrClosed = errors.New("subscriber is closed")
	// ErrSlowConsumer is returned when a subscriber cannot accept a frame
	// without blocking.
	ErrSlowConsumer = errors.New("subscriber send buffer is full")
)

// Subscriber is a directly connected streaming client.
type Subscriber interface {
	ID() string
	// Send delivers one encoded frame. It must not block on a slow peer.
	Send(frame []byte) error
	// Close releases the transport. It is safe to call more than once.
	Close() error
	// Done is closed when the subscriber stops, from either side.
	Done() <-chan struct{}
}

// State is the lifecycle stage of a registered subscriber.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}
