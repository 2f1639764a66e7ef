package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/pkg/mqtt"
	"github.com/rs/zerolog"
)

// MQTTPublisher publishes envelopes on <prefix>/<channel>/<event> topics of
// the broker the devices use.
type MQTTPublisher struct {
	client  mqtt.MQTTClient
	prefix  string
	qos     byte
	timeout time.Duration
	now     func() time.Time
	Logger  zerolog.Logger
}

// NewMQTTPublisher creates a publisher over a connected MQTT client. The
// client's lifecycle stays with the caller.
func NewMQTTPublisher(client mqtt.MQTTClient, prefix string, qos int, timeout time.Duration, logger zerolog.Logger) *MQTTPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  prefix,
		qos:     byte(qos),
		timeout: timeout,
		now:     time.Now,
		Logger:  logger.With().Str("backend", constants.BackendMQTT).Logger(),
	}
}

func (p *MQTTPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	msg, err := EncodeEnvelope(channel, event, payload, p.now())
	if err != nil {
		return err
	}

	wait := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}

	topic := Topic(p.prefix, channel, event)
	token := p.client.Publish(topic, p.qos, false, msg)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("publish to MQTT topic %s: timed out after %s", topic, wait)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to MQTT topic %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Backend() string {
	return constants.BackendMQTT
}

func (p *MQTTPublisher) Close() error {
	return nil
}
