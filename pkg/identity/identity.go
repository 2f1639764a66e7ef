package identity

import (
	"errors"
	"strings"
)

// ErrNotDevice is returned for client identifiers outside the device namespace.
var ErrNotDevice = errors.New("client identifier does not carry the device prefix")

// Resolver maps broker client identifiers to device identities.
type Resolver struct {
	prefix string
}

// NewResolver creates a Resolver for the given client identifier prefix.
func NewResolver(prefix string) *Resolver {
	return &Resolver{prefix: prefix}
}

// Prefix returns the recognized device prefix.
func (r *Resolver) Prefix() string {
	return r.prefix
}

// IsDevice reports whether clientID belongs to a fleet device.
func (r *Resolver) IsDevice(clientID string) bool {
	_, err := r.DeviceID(clientID)
	return err == nil
}

// DeviceID strips the prefix from clientID. A bare prefix is not a device.
func (r *Resolver) DeviceID(clientID string) (string, error) {
	id, ok := strings.CutPrefix(clientID, r.prefix)
	if !ok || id == "" {
		return "", ErrNotDevice
	}
	return id, nil
}

// ClientID rebuilds the broker client identifier of a device.
func (r *Resolver) ClientID(deviceID string) string {
	return r.prefix + deviceID
}
