package subscribers

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WebSocketSubscriber delivers frames over a WebSocket connection through a
// bounded send buffer drained by WritePump.
type WebSocketSubscriber struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	Logger zerolog.Logger

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
}

// NewWebSocketSubscriber wraps an upgraded connection. Run WritePump and
// ReadPump in their own goroutines.
func NewWebSocketSubscriber(conn *websocket.Conn, bufferSize int, logger zerolog.Logger) *WebSocketSubscriber {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	id := uuid.NewString()
	return &WebSocketSubscriber{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, bufferSize),
		Logger: logger.With().Str("subscriber_id", id).Logger(),
		done:   make(chan struct{}),
	}
}

func (s *WebSocketSubscriber) ID() string {
	return s.id
}

// Send queues a frame. A full buffer means the peer is not keeping up.
func (s *WebSocketSubscriber) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which sends a close message and closes the
// connection.
func (s *WebSocketSubscriber) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	s.mu.Unlock()
	s.terminate()
	return nil
}

func (s *WebSocketSubscriber) Done() <-chan struct{} {
	return s.done
}

func (s *WebSocketSubscriber) terminate() {
	s.doneOnce.Do(func() { close(s.done) })
}

// ReadPump consumes client messages until the connection drops. Clients are
// not expected to send anything but control frames.
func (s *WebSocketSubscriber) ReadPump() {
	defer func() {
		s.terminate()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.Logger.Warn().Err(err).Msg("WebSocket connection error")
			}
			return
		}
	}
}

// WritePump drains the send buffer to the connection and keeps it alive
// with pings.
func (s *WebSocketSubscriber) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.terminate()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.Logger.Debug().Err(err).Msg("WebSocket write failed")
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
