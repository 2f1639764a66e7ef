package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisClient is the subset of a go-redis client used for publishing.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Close() error
}

// RedisPublisher publishes envelopes on <prefix>:<channel>.
type RedisPublisher struct {
	client RedisClient
	prefix string
	now    func() time.Time
	Logger zerolog.Logger
}

// NewRedisPublisher creates a publisher over a go-redis client.
func NewRedisPublisher(client RedisClient, prefix string, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		prefix: prefix,
		now:    time.Now,
		Logger: logger.With().Str("backend", constants.BackendRedis).Logger(),
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	msg, err := EncodeEnvelope(channel, event, payload, p.now())
	if err != nil {
		return err
	}
	target := RedisChannel(p.prefix, channel)
	if err := p.client.Publish(ctx, target, msg).Err(); err != nil {
		return fmt.Errorf("publish to redis channel %s: %w", target, err)
	}
	return nil
}

func (p *RedisPublisher) Backend() string {
	return constants.BackendRedis
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
