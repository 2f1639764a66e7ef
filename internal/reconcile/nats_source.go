package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/fanout"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSSource subscribes to every fanout subject under a prefix.
type NATSSource struct {
	URL          string
	Prefix       string
	FlushTimeout time.Duration
	Logger       zerolog.Logger
}

// NewNATSSource creates a NATS relay source.
func NewNATSSource(url, prefix string, logger zerolog.Logger) *NATSSource {
	return &NATSSource{
		URL:          url,
		Prefix:       prefix,
		FlushTimeout: 5 * time.Second,
		Logger:       logger.With().Str("source", constants.BackendNATS).Logger(),
	}
}

func (s *NATSSource) Name() string {
	return constants.BackendNATS
}

// Subscribe connects without automatic reconnects so a lost connection ends
// the session and the caller's retry policy takes over.
func (s *NATSSource) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(64)
	nc, err := nats.Connect(s.URL,
		nats.Name("fleetwatch"),
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) {
			sub.end(ErrConnectionLost)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.Logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", s.URL, err)
	}

	subject := fanout.Subject(s.Prefix, ">", "")
	ns, err := nc.Subscribe(subject, s.handler(sub))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := nc.FlushTimeout(s.FlushTimeout); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flush subscription %s: %w", subject, err)
	}

	sub.closeFn = func() error {
		_ = ns.Unsubscribe()
		nc.Close()
		return nil
	}
	s.Logger.Info().Str("subject", subject).Msg("Subscribed to NATS relay")
	return sub, nil
}

func (s *NATSSource) handler(sub *subscription) nats.MsgHandler {
	return func(m *nats.Msg) {
		d, err := decodeEnvelope(m.Data)
		if err != nil {
			s.Logger.Warn().Err(err).Str("subject", m.Subject).Msg("Dropping undecodable relay message")
			return
		}
		sub.push(d)
	}
}
