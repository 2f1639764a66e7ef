package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/internal/utils"
	"github.com/benmeehan/iot-fleet/pkg/mqtt"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// New builds the publisher selected by cfg.Backend. registry is only used by
// the direct backend and mqttClient only by the mqtt backend.
func New(ctx context.Context, cfg utils.FanoutConfig, registry Broadcaster, mqttClient mqtt.MQTTClient, logger zerolog.Logger) (Publisher, error) {
	switch cfg.Backend {
	case "", constants.BackendDirect:
		if registry == nil {
			return nil, errors.New("direct fanout requires a subscriber registry")
		}
		return NewDirectPublisher(registry, logger), nil

	case constants.BackendNATS:
		nc, err := ConnectNATS(cfg.NATS.URL, cfg.NATS.Name, logger)
		if err != nil {
			return nil, err
		}
		return NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, logger), nil

	case constants.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		timeout := cfg.PublishTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisPublisher(client, cfg.Redis.ChannelPrefix, logger), nil

	case constants.BackendMQTT:
		if mqttClient == nil {
			return nil, errors.New("mqtt fanout requires a broker connection")
		}
		return NewMQTTPublisher(mqttClient, cfg.MQTT.TopicPrefix, cfg.MQTT.QOS, cfg.PublishTimeout, logger), nil

	default:
		return nil, fmt.Errorf("unknown fanout backend %q", cfg.Backend)
	}
}

// ClientRelayConfig describes how clients reach the configured backend.
func ClientRelayConfig(cfg utils.FanoutConfig) models.RelayConfig {
	rc := models.RelayConfig{
		Backend:  cfg.Backend,
		Channels: constants.SubscribedEvents,
	}
	switch cfg.Backend {
	case constants.BackendNATS:
		rc.URL = cfg.NATS.PublicURL
		rc.Prefix = cfg.NATS.SubjectPrefix
	case constants.BackendRedis:
		rc.URL = cfg.Redis.PublicAddr
		rc.Prefix = cfg.Redis.ChannelPrefix
	case constants.BackendMQTT:
		rc.URL = cfg.MQTT.PublicURL
		rc.Prefix = cfg.MQTT.TopicPrefix
	default:
		rc.Backend = constants.BackendDirect
		rc.Stream = "/api/device-status-stream"
		rc.URL = "/api/device-status-ws"
	}
	return rc
}
