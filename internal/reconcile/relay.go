package reconcile

import (
	"fmt"
	"net/url"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/rs/zerolog"
)

// SourceOptions carry credentials the relay config endpoint does not publish.
type SourceOptions struct {
	RedisPassword string
	RedisDB       int
}

// SourceFromRelayConfig picks the live source advertised by the server.
// Relative direct-push URLs are resolved against baseURL.
func SourceFromRelayConfig(baseURL string, rc models.RelayConfig, opts SourceOptions, logger zerolog.Logger) (Source, error) {
	switch rc.Backend {
	case constants.BackendNATS:
		if rc.URL == "" {
			return nil, fmt.Errorf("relay config for %s has no url", rc.Backend)
		}
		return NewNATSSource(rc.URL, rc.Prefix, logger), nil
	case constants.BackendRedis:
		if rc.URL == "" {
			return nil, fmt.Errorf("relay config for %s has no url", rc.Backend)
		}
		return NewRedisSource(rc.URL, opts.RedisPassword, opts.RedisDB, rc.Prefix, logger), nil
	case constants.BackendMQTT:
		if rc.URL == "" {
			return nil, fmt.Errorf("relay config for %s has no url", rc.Backend)
		}
		return NewMQTTSource(rc.URL, rc.Prefix, logger), nil
	case constants.BackendDirect:
		wsURL, err := websocketURL(baseURL, rc.URL)
		if err != nil {
			return nil, err
		}
		return NewWebSocketSource(wsURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown relay backend %q", rc.Backend)
	}
}

func websocketURL(baseURL, ref string) (string, error) {
	if ref == "" {
		ref = "/api/device-status-ws"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	u := base.ResolveReference(r)
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported stream scheme %q", u.Scheme)
	}
	return u.String(), nil
}
