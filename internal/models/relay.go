package models

import "github.com/benmeehan/iot-fleet/internal/constants"

// RelayConfig tells clients how to subscribe to live updates.
type RelayConfig struct {
	Backend  string                   `json:"backend"`
	URL      string                   `json:"url,omitempty"`
	Prefix   string                   `json:"prefix,omitempty"`
	Stream   string                   `json:"stream,omitempty"`
	Channels []constants.ChannelEvent `json:"channels"`
}
