package ingress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/internal/utils"
	"github.com/benmeehan/iot-fleet/pkg/identity"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Kind tags the variant held by a Result.
type Kind int

const (
	KindIgnored Kind = iota
	KindConnection
	KindOTA
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindOTA:
		return "ota"
	default:
		return "ignored"
	}
}

// Result is the outcome of decoding one broker callback. Exactly one of
// Connection or OTA is meaningful, selected by Kind.
type Result struct {
	Kind       Kind
	Event      string
	ClientID   string
	DeviceID   string
	Message    string
	Connection models.ConnectionEvent
	OTA        models.OTAEvent
}

// Options tune the decoder's filtering.
type Options struct {
	IgnoredReasons  []string
	StrictOTAStatus bool
	Now             func() time.Time
}

// Decoder turns raw broker callbacks into normalized events.
type Decoder struct {
	validate  *validator.Validate
	resolver  *identity.Resolver
	ignored   map[string]struct{}
	strictOTA bool
	now       func() time.Time
	Logger    zerolog.Logger
}

// NewDecoder creates a Decoder. Without explicit ignored reasons the default
// session churn reasons are filtered.
func NewDecoder(resolver *identity.Resolver, opts Options, logger zerolog.Logger) *Decoder {
	reasons := opts.IgnoredReasons
	if reasons == nil {
		reasons = constants.DefaultIgnoredReasons
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Decoder{
		validate:  v,
		resolver:  resolver,
		ignored:   utils.SliceToSet(reasons),
		strictOTA: opts.StrictOTAStatus,
		now:       now,
		Logger:    logger.With().Str("component", "ingress").Logger(),
	}
}

// Decode handles any broker callback: connection events and publishes.
func (d *Decoder) Decode(body []byte) (Result, error) {
	return d.decode(body, false)
}

// DecodePublish accepts only message.publish callbacks.
func (d *Decoder) DecodePublish(body []byte) (Result, error) {
	return d.decode(body, true)
}

func (d *Decoder) decode(body []byte, publishOnly bool) (Result, error) {
	raw, evt, err := d.parseEnvelope(body)
	if err != nil {
		return Result{}, err
	}
	if publishOnly && evt.Event != constants.EventMessagePublish {
		return Result{Event: evt.Event, ClientID: evt.ClientID}, ErrNotPublish
	}

	deviceID, err := d.resolver.DeviceID(evt.ClientID)
	if err != nil {
		return d.ignore(evt, evt.ClientID, constants.MessageNonDeviceIgnored), nil
	}
	if evt.Reason != "" {
		if _, skip := d.ignored[evt.Reason]; skip {
			return d.ignore(evt, evt.ClientID, constants.MessageReasonIgnored), nil
		}
	}

	switch evt.Event {
	case constants.EventClientConnected, constants.EventClientDisconnected:
		return Result{
			Kind:       KindConnection,
			Event:      evt.Event,
			ClientID:   evt.ClientID,
			DeviceID:   deviceID,
			Connection: d.connectionEvent(raw, evt, deviceID),
		}, nil

	case constants.EventMessagePublish:
		res := Result{Kind: KindOTA, Event: evt.Event, ClientID: evt.ClientID, DeviceID: deviceID}
		ota, err := d.DecodeOTAPayload(evt.Payload)
		if err != nil {
			return res, err
		}
		res.OTA = ota
		return res, nil

	default:
		return d.ignore(evt, deviceID, constants.MessageUnsupportedIgnored), nil
	}
}

// DecodeOTAPayload validates a device OTA report and maps its status to an
// OTA event kind.
func (d *Decoder) DecodeOTAPayload(payload []byte) (models.OTAEvent, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return models.OTAEvent{}, &PayloadError{Err: errors.New("empty payload")}
	}

	var p models.OTAPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.OTAEvent{}, &PayloadError{Err: fmt.Errorf("parse: %w", err)}
	}
	if err := d.validate.Struct(p); err != nil {
		return models.OTAEvent{}, &PayloadError{Err: d.validationError(err)}
	}

	evt := models.OTAEvent{
		DeviceID: p.ID,
		Status:   p.Status,
		Progress: strconv.FormatFloat(*p.Progress, 'f', -1, 64),
	}

	switch p.Status {
	case constants.OTAStatusProgress:
		evt.Kind = constants.OTAKindProgress
	case constants.OTAStatusSuccess:
		evt.Kind = constants.OTAKindSuccess
	case constants.OTAStatusError, constants.OTAStatusFailed:
		evt.Kind = constants.OTAKindError
	default:
		if d.strictOTA {
			return models.OTAEvent{}, &PayloadError{Err: &ValidationError{Field: "status", Reason: "unrecognized OTA status " + strconv.Quote(p.Status)}}
		}
		d.Logger.Warn().Str("device_id", p.ID).Str("status", p.Status).Msg("Unrecognized OTA status, treating as error")
		evt.Kind = constants.OTAKindError
	}

	return evt, nil
}

// parseEnvelope decodes the body as a JSON object and validates its
// discriminator fields.
func (d *Decoder) parseEnvelope(body []byte) (map[string]any, models.WebhookEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, models.WebhookEvent{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if raw == nil {
		return nil, models.WebhookEvent{}, fmt.Errorf("%w: body is not an object", ErrMalformed)
	}

	evt := models.WebhookEvent{
		Event:     stringField(raw, "event"),
		ClientID:  stringField(raw, "clientid"),
		Reason:    stringField(raw, "reason"),
		Topic:     stringField(raw, "topic"),
		Payload:   payloadField(raw["payload"]),
		Timestamp: d.timestampField(raw["timestamp"]),
	}
	if err := d.validate.Struct(evt); err != nil {
		return nil, evt, fmt.Errorf("%w: %w", ErrMalformed, d.validationError(err))
	}
	return raw, evt, nil
}

func (d *Decoder) connectionEvent(raw map[string]any, evt models.WebhookEvent, deviceID string) models.ConnectionEvent {
	attrs := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "event" || k == "clientid" {
			continue
		}
		attrs[k] = v
	}

	ce := models.ConnectionEvent{
		DeviceID:   deviceID,
		ClientID:   evt.ClientID,
		Kind:       models.Connected,
		Timestamp:  evt.Timestamp,
		Attributes: attrs,
	}
	if evt.Event == constants.EventClientDisconnected {
		ce.Kind = models.Disconnected
		ce.Reason = evt.Reason
		if ce.Reason == "" {
			ce.Reason = constants.DefaultDisconnectReason
		}
	}
	return ce
}

func (d *Decoder) ignore(evt models.WebhookEvent, deviceID, message string) Result {
	return Result{
		Kind:     KindIgnored,
		Event:    evt.Event,
		ClientID: evt.ClientID,
		DeviceID: deviceID,
		Message:  message,
	}
}

func (d *Decoder) validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ValidationError{Field: verrs[0].Field(), Reason: verrs[0].Tag()}
	}
	return err
}

// timestampField reads a broker millisecond timestamp, falling back to the
// decoder clock when it is absent or unusable.
func (d *Decoder) timestampField(v any) time.Time {
	var ms float64
	switch ts := v.(type) {
	case float64:
		ms = ts
	case string:
		parsed, err := strconv.ParseFloat(ts, 64)
		if err == nil {
			ms = parsed
		}
	}
	if ms <= 0 {
		return d.now().UTC()
	}
	return time.UnixMilli(int64(ms)).UTC()
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// payloadField accepts the payload either as a JSON-encoded string or as an
// already decoded value.
func payloadField(v any) []byte {
	switch p := v.(type) {
	case nil:
		return nil
	case string:
		return []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil
		}
		return b
	}
}
