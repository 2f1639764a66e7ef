package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConn is the subset of *nats.Conn used for publishing.
type NATSConn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSPublisher publishes envelopes on <prefix>.<channel>.<event> subjects.
type NATSPublisher struct {
	conn   NATSConn
	prefix string
	now    func() time.Time
	Logger zerolog.Logger
}

// ConnectNATS dials a NATS server with reconnect logging.
func ConnectNATS(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSPublisher creates a publisher over an established connection.
func NewNATSPublisher(conn NATSConn, prefix string, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		now:    time.Now,
		Logger: logger.With().Str("backend", constants.BackendNATS).Logger(),
	}
}

func (p *NATSPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := EncodeEnvelope(channel, event, payload, p.now())
	if err != nil {
		return err
	}
	subject := Subject(p.prefix, channel, event)
	if err := p.conn.Publish(subject, msg); err != nil {
		return fmt.Errorf("publish to NATS subject %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Backend() string {
	return constants.BackendNATS
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
