package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/benmeehan/iot-fleet/internal/models"
)

// Publisher delivers "event E with payload P on channel C" to every
// subscriber of C. Implementations report failures to the caller and never
// retry on their own.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
	Backend() string
	Close() error
}

// EncodeEnvelope builds the relay wire message for one publish.
func EncodeEnvelope(channel, event string, payload any, at time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s payload: %w", channel, event, err)
	}
	return json.Marshal(models.Envelope{
		Channel:   channel,
		Event:     event,
		Data:      data,
		Timestamp: at.UTC(),
	})
}

// Subject is the NATS subject for a channel/event pair.
func Subject(prefix, channel, event string) string {
	return join(".", prefix, channel, event)
}

// RedisChannel is the Redis pub/sub channel for a fanout channel. The event
// name travels inside the envelope.
func RedisChannel(prefix, channel string) string {
	return join(":", prefix, channel)
}

// Topic is the MQTT topic for a channel/event pair.
func Topic(prefix, channel, event string) string {
	return join("/", prefix, channel, event)
}

func join(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, sep)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
