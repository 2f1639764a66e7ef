package ingress

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks a callback body missing its discriminator fields.
	ErrMalformed = errors.New("invalid webhook event format")
	// ErrNotPublish is returned by DecodePublish for any other event kind.
	ErrNotPublish = errors.New("event is not a message.publish event")
)

// ValidationError names the first field that failed schema validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q failed validation: %s", e.Field, e.Reason)
}

// PayloadError wraps a publish payload that could not be decoded into an OTA
// report. Ingestion drops these without surfacing them to the broker.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string {
	return "invalid OTA payload: " + e.Err.Error()
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}
