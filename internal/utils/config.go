package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/pkg/file"
	"github.com/joho/godotenv"
)

// Config represents the structure of the configuration file.
type Config struct {
	Server struct {
		Address           string        `yaml:"address"`             // Listen address of the HTTP server
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"` // Timeout for reading request headers
		IdleTimeout       time.Duration `yaml:"idle_timeout"`        // Keep-alive idle timeout
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`    // Grace period for in-flight requests on stop
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`  // zerolog level name
		Format string `yaml:"format"` // json or console
	} `yaml:"logging"`

	Ingress struct {
		DevicePrefix    string   `yaml:"device_prefix"`     // Client identifier prefix of fleet devices
		IgnoredReasons  []string `yaml:"ignored_reasons"`   // Disconnect reasons treated as churn
		StrictOTAStatus bool     `yaml:"strict_ota_status"` // Drop unrecognized OTA statuses instead of treating them as errors
		WebhookSecret   string   `yaml:"webhook_secret"`    // HS256 secret for webhook bearer tokens; empty disables auth
	} `yaml:"ingress"`

	Fanout FanoutConfig `yaml:"fanout"`

	Stream struct {
		WriteTimeout time.Duration `yaml:"write_timeout"` // Per-frame write deadline for SSE subscribers
		SendBuffer   int           `yaml:"send_buffer"`   // Queued frames per WebSocket subscriber
	} `yaml:"stream"`

	MQTT MQTTConfig `yaml:"mqtt"`

	Services struct {
		MQTTIngest struct {
			Enabled bool     `yaml:"enabled"` // Consume OTA reports straight from the broker
			Topics  []string `yaml:"topics"`  // OTA report topics, wildcards allowed
			QOS     int      `yaml:"qos"`     // Subscription QoS
		} `yaml:"mqtt_ingest"`

		Keepalive struct {
			Enabled  bool          `yaml:"enabled"`  // Enable/disable direct-push keepalive frames
			Interval time.Duration `yaml:"interval"` // Interval between keepalive frames
		} `yaml:"keepalive"`
	} `yaml:"services"`

	Firmware FirmwareConfig `yaml:"firmware"`
}

// FanoutConfig selects and configures the fanout backend.
type FanoutConfig struct {
	Backend        string        `yaml:"backend"`         // direct, nats, redis or mqtt
	PublishTimeout time.Duration `yaml:"publish_timeout"` // Upper bound for a single publish

	NATS struct {
		URL           string `yaml:"url"`            // Server URL
		PublicURL     string `yaml:"public_url"`     // URL handed to clients, defaults to URL
		Name          string `yaml:"name"`           // Connection name
		SubjectPrefix string `yaml:"subject_prefix"` // Subject prefix
	} `yaml:"nats"`

	Redis struct {
		Addr          string `yaml:"addr"`           // host:port
		PublicAddr    string `yaml:"public_addr"`    // Address handed to clients, defaults to Addr
		Password      string `yaml:"password"`       // AUTH password
		DB            int    `yaml:"db"`             // Database index
		ChannelPrefix string `yaml:"channel_prefix"` // Channel prefix
	} `yaml:"redis"`

	MQTT struct {
		TopicPrefix string `yaml:"topic_prefix"` // Topic prefix on the device broker
		PublicURL   string `yaml:"public_url"`   // Broker URL handed to clients
		QOS         int    `yaml:"qos"`          // Publish QoS
	} `yaml:"mqtt"`
}

// MQTTConfig describes the connection to the device broker.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`          // MQTT broker address
	ClientID       string        `yaml:"client_id"`       // MQTT client ID
	CACertificate  string        `yaml:"ca_certificate"`  // Path to the CA certificate, empty for plain TCP
	Username       string        `yaml:"username"`        // Broker username
	Password       string        `yaml:"password"`        // Broker password
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // Time allowed for the initial connect
}

// FirmwareConfig locates firmware artifacts and the OTA command topic.
type FirmwareConfig struct {
	Enabled       bool          `yaml:"enabled"`        // Enable firmware listing and OTA dispatch
	Endpoint      string        `yaml:"endpoint"`       // S3 compatible endpoint
	AccessKey     string        `yaml:"access_key"`     // Access key id
	SecretKey     string        `yaml:"secret_key"`     // Secret access key
	Region        string        `yaml:"region"`         // Bucket region
	UseSSL        bool          `yaml:"use_ssl"`        // HTTPS to the endpoint
	Bucket        string        `yaml:"bucket"`         // Bucket holding firmware objects
	Prefix        string        `yaml:"prefix"`         // Object key prefix
	OTATopic      string        `yaml:"ota_topic"`      // Command topic, the board name is appended
	QOS           int           `yaml:"qos"`            // Command publish QoS
	PresignExpiry time.Duration `yaml:"presign_expiry"` // Lifetime of firmware download URLs
	Workers       int           `yaml:"workers"`        // Parallel board dispatches
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and then environment overrides. A .env file next to the process is
// honoured when present.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("read config %s: %w", filename, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	config.ApplyDefaults()
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.Address, ":8080")
	setDefault(&c.Server.ReadHeaderTimeout, 10*time.Second)
	setDefault(&c.Server.IdleTimeout, 120*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 10*time.Second)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "json")

	setDefault(&c.Ingress.DevicePrefix, constants.DefaultDevicePrefix)
	if c.Ingress.IgnoredReasons == nil {
		c.Ingress.IgnoredReasons = append([]string(nil), constants.DefaultIgnoredReasons...)
	}

	setDefault(&c.Fanout.Backend, constants.BackendDirect)
	setDefault(&c.Fanout.PublishTimeout, 5*time.Second)
	setDefault(&c.Fanout.NATS.Name, "iot-fleet")
	setDefault(&c.Fanout.NATS.SubjectPrefix, "fleet")
	setDefault(&c.Fanout.NATS.PublicURL, c.Fanout.NATS.URL)
	setDefault(&c.Fanout.Redis.ChannelPrefix, "fleet")
	setDefault(&c.Fanout.Redis.PublicAddr, c.Fanout.Redis.Addr)
	setDefault(&c.Fanout.MQTT.TopicPrefix, "fleet")
	setDefault(&c.Fanout.MQTT.PublicURL, c.MQTT.Broker)

	setDefault(&c.Stream.WriteTimeout, 5*time.Second)
	setDefault(&c.Stream.SendBuffer, 64)

	setDefault(&c.MQTT.ClientID, "iot-fleet")
	setDefault(&c.MQTT.ConnectTimeout, 10*time.Second)

	setDefault(&c.Services.MQTTIngest.QOS, 1)
	setDefault(&c.Services.Keepalive.Interval, 30*time.Second)

	setDefault(&c.Firmware.Prefix, constants.DefaultFirmwarePrefix)
	setDefault(&c.Firmware.QOS, constants.DefaultOTACommandQOS)
	setDefault(&c.Firmware.PresignExpiry, constants.DefaultPresignExpiry)
	setDefault(&c.Firmware.Workers, constants.DefaultDispatchWorkers)
}

// ApplyEnv overrides secrets and endpoints from FLEET_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"FLEET_SERVER_ADDRESS":        &c.Server.Address,
		"FLEET_LOG_LEVEL":             &c.Logging.Level,
		"FLEET_WEBHOOK_SECRET":        &c.Ingress.WebhookSecret,
		"FLEET_FANOUT_BACKEND":        &c.Fanout.Backend,
		"FLEET_NATS_URL":              &c.Fanout.NATS.URL,
		"FLEET_REDIS_ADDR":            &c.Fanout.Redis.Addr,
		"FLEET_REDIS_PASSWORD":        &c.Fanout.Redis.Password,
		"FLEET_MQTT_BROKER":           &c.MQTT.Broker,
		"FLEET_MQTT_USERNAME":         &c.MQTT.Username,
		"FLEET_MQTT_PASSWORD":         &c.MQTT.Password,
		"FLEET_FIRMWARE_ENDPOINT":     &c.Firmware.Endpoint,
		"FLEET_FIRMWARE_ACCESS_KEY":   &c.Firmware.AccessKey,
		"FLEET_FIRMWARE_SECRET_KEY":   &c.Firmware.SecretKey,
		"FLEET_FIRMWARE_BUCKET":       &c.Firmware.Bucket,
		"FLEET_FIRMWARE_OTA_TOPIC":    &c.Firmware.OTATopic,
		"FLEET_INGRESS_DEVICE_PREFIX": &c.Ingress.DevicePrefix,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"FLEET_FIRMWARE_ENABLED":    &c.Firmware.Enabled,
		"FLEET_FIRMWARE_USE_SSL":    &c.Firmware.UseSSL,
		"FLEET_STRICT_OTA_STATUS":   &c.Ingress.StrictOTAStatus,
		"FLEET_MQTT_INGEST_ENABLED": &c.Services.MQTTIngest.Enabled,
	}
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean in %s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	switch c.Fanout.Backend {
	case constants.BackendDirect:
	case constants.BackendNATS:
		if c.Fanout.NATS.URL == "" {
			errs = append(errs, errors.New("fanout.nats.url is required for the nats backend"))
		}
	case constants.BackendRedis:
		if c.Fanout.Redis.Addr == "" {
			errs = append(errs, errors.New("fanout.redis.addr is required for the redis backend"))
		}
	case constants.BackendMQTT:
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required for the mqtt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown fanout backend %q", c.Fanout.Backend))
	}

	if c.Services.MQTTIngest.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required for mqtt_ingest"))
		}
		if len(c.Services.MQTTIngest.Topics) == 0 {
			errs = append(errs, errors.New("services.mqtt_ingest.topics must not be empty"))
		}
	}

	if c.Firmware.Enabled {
		if c.Firmware.Endpoint == "" || c.Firmware.Bucket == "" {
			errs = append(errs, errors.New("firmware.endpoint and firmware.bucket are required"))
		}
		if c.Firmware.OTATopic == "" {
			errs = append(errs, errors.New("firmware.ota_topic is required"))
		}
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required for firmware dispatch"))
		}
	}

	if strings.TrimSpace(c.Ingress.DevicePrefix) == "" {
		errs = append(errs, errors.New("ingress.device_prefix must not be empty"))
	}

	return errors.Join(errs...)
}

// NeedsMQTT reports whether any configured component uses the broker
// connection.
func (c *Config) NeedsMQTT() bool {
	return c.Fanout.Backend == constants.BackendMQTT || c.Services.MQTTIngest.Enabled || c.Firmware.Enabled
}

func setDefault[T comparable](dst *T, def T) {
	var zero T
	if *dst == zero {
		*dst = def
	}
}
