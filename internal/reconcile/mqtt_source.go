package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/fanout"
	"github.com/benmeehan/iot-fleet/pkg/file"
	"github.com/benmeehan/iot-fleet/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MQTTSource subscribes to the fanout topic tree on the broker.
type MQTTSource struct {
	Broker  string
	Prefix  string
	QOS     byte
	Timeout time.Duration
	Logger  zerolog.Logger

	// connect opens a broker connection; replaced in tests.
	connect func(o mqtt.Options) (mqtt.MQTTClient, error)
}

// NewMQTTSource creates an MQTT relay source.
func NewMQTTSource(broker, prefix string, logger zerolog.Logger) *MQTTSource {
	s := &MQTTSource{
		Broker:  broker,
		Prefix:  prefix,
		QOS:     1,
		Timeout: 10 * time.Second,
		Logger:  logger.With().Str("source", constants.BackendMQTT).Logger(),
	}
	s.connect = func(o mqtt.Options) (mqtt.MQTTClient, error) {
		svc := mqtt.NewMqttService(file.NewFileService(), s.Logger)
		if err := svc.Initialize(o); err != nil {
			return nil, err
		}
		return svc, nil
	}
	return s
}

func (s *MQTTSource) Name() string {
	return constants.BackendMQTT
}

func (s *MQTTSource) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(64)
	client, err := s.connect(mqtt.Options{
		Broker:         s.Broker,
		ClientID:       "fleetwatch-" + uuid.NewString(),
		ConnectTimeout: s.Timeout,
		NoReconnect:    true,
		OnConnectionLost: func(err error) {
			sub.end(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		},
	})
	if err != nil {
		return nil, err
	}

	topic := fanout.Topic(s.Prefix, "#", "")
	token := client.Subscribe(topic, s.QOS, func(_ MQTT.Client, msg MQTT.Message) {
		d, err := decodeEnvelope(msg.Payload())
		if err != nil {
			s.Logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping undecodable relay message")
			return
		}
		sub.push(d)
	})
	if !token.WaitTimeout(s.Timeout) {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: timed out after %s", topic, s.Timeout)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub.closeFn = func() error {
		client.Disconnect(250)
		return nil
	}
	s.Logger.Info().Str("topic", topic).Msg("Subscribed to MQTT relay")
	return sub, nil
}
