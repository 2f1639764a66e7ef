package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketSource reads the server's direct-push frames.
type WebSocketSource struct {
	URL    string
	Dialer *websocket.Dialer
	// ReadTimeout bounds the silence between frames; the server's keepalive
	// frames keep a healthy stream inside it. Zero disables the deadline.
	ReadTimeout time.Duration
	Logger      zerolog.Logger
}

// NewWebSocketSource creates a direct-push source for a ws:// or wss:// URL.
func NewWebSocketSource(url string, logger zerolog.Logger) *WebSocketSource {
	return &WebSocketSource{
		URL:    url,
		Dialer: websocket.DefaultDialer,
		Logger: logger.With().Str("source", constants.BackendDirect).Logger(),
	}
}

func (s *WebSocketSource) Name() string {
	return constants.BackendDirect
}

func (s *WebSocketSource) Subscribe(ctx context.Context) (Subscription, error) {
	conn, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.URL, err)
	}

	sub := newSubscription(64)
	sub.closeFn = func() error {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return conn.Close()
	}

	go s.readLoop(conn, sub)
	s.Logger.Info().Str("url", s.URL).Msg("Connected to direct-push stream")
	return sub, nil
}

func (s *WebSocketSource) readLoop(conn *websocket.Conn, sub *subscription) {
	for {
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		var f models.Frame
		if err := conn.ReadJSON(&f); err != nil {
			sub.end(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			return
		}
		d, ok, err := frameToDelta(f)
		if err != nil {
			s.Logger.Warn().Err(err).Str("type", f.Type).Msg("Dropping undecodable frame")
			continue
		}
		if ok && !sub.push(d) {
			return
		}
	}
}

// frameToDelta maps a direct-push frame onto the relay vocabulary. Handshake
// and keepalive frames carry no delta.
func frameToDelta(f models.Frame) (Delta, bool, error) {
	var (
		d    Delta
		data any
	)
	switch f.Type {
	case constants.FrameConnected, constants.FrameKeepalive:
		return Delta{}, false, nil
	case constants.FrameInitial:
		d = Delta{Channel: constants.ChannelDeviceStatus, Event: EventSnapshot}
		data = models.NewInitialFrame(f.Devices).Devices
	case constants.FrameDeviceUpdate:
		if f.Device == nil {
			return Delta{}, false, fmt.Errorf("%s frame without device", f.Type)
		}
		d = Delta{Channel: constants.ChannelDeviceStatus, Event: constants.EventStatusUpdate}
		data = f.Device.ToStatusUpdate()
	case constants.FrameClear:
		d = Delta{Channel: constants.ChannelDeviceStatus, Event: constants.EventStatusClear}
		data = models.StatusClear{Timestamp: f.Timestamp}
	case constants.FrameEvent:
		if f.Channel == "" || f.Event == "" {
			return Delta{}, false, errBadEnvelope
		}
		return Delta{Channel: f.Channel, Event: f.Event, Data: f.Data}, true, nil
	default:
		return Delta{}, false, fmt.Errorf("unknown frame type %q", f.Type)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Delta{}, false, err
	}
	d.Data = raw
	return d, true, nil
}
