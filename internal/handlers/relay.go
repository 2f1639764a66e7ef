package handlers

import (
	"net/http"
	"time"

	"github.com/benmeehan/iot-fleet/internal/models"
)

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Fanout      string         `json:"fanout"`
	Subscribers int            `json:"subscribers"`
	Devices     models.Summary `json:"devices"`
}

// RelayConfig tells clients where to subscribe for live updates.
func (h *Handler) RelayConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Relay)
}

// Health reports liveness with a few counters.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	_, summary := h.opts.Presence.Snapshot()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		Fanout:      h.opts.Relay.Backend,
		Subscribers: h.opts.Subscribers.Count(),
		Devices:     summary,
	})
}
