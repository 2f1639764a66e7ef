package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/fanout"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisSource subscribes to the fanout pub/sub channels.
type RedisSource struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Logger   zerolog.Logger
}

// NewRedisSource creates a Redis relay source.
func NewRedisSource(addr, password string, db int, prefix string, logger zerolog.Logger) *RedisSource {
	return &RedisSource{
		Addr:     addr,
		Password: password,
		DB:       db,
		Prefix:   prefix,
		Logger:   logger.With().Str("source", constants.BackendRedis).Logger(),
	}
}

func (s *RedisSource) Name() string {
	return constants.BackendRedis
}

func (s *RedisSource) Subscribe(ctx context.Context) (Subscription, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})

	var channels []string
	for _, ch := range relayChannels() {
		channels = append(channels, fanout.RedisChannel(s.Prefix, ch))
	}

	ps := client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe redis %s: %w", s.Addr, err)
	}

	sub := newSubscription(64)
	sub.closeFn = func() error {
		return errors.Join(ps.Close(), client.Close())
	}

	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			d, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				s.Logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping undecodable relay message")
				continue
			}
			if !sub.push(d) {
				return
			}
		}
		sub.end(ErrConnectionLost)
	}()

	s.Logger.Info().Strs("channels", channels).Msg("Subscribed to Redis relay")
	return sub, nil
}
