package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/ingress"
)

type webhookResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message,omitempty"`
	DeviceID  string     `json:"device_id,omitempty"`
	Status    string     `json:"status,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Webhook receives broker connection and publish callbacks.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid WebHook event format")
		return
	}
	res, err := h.opts.Decoder.Decode(body)
	if err != nil && !isPayloadError(err) {
		h.opts.Metrics.ObserveWebhook("invalid", "rejected")
		h.Logger.Error().Err(err).Bytes("body", body).Msg("Invalid WebHook event format")
		writeError(w, http.StatusBadRequest, "Invalid WebHook event format")
		return
	}
	h.dispatch(w, r, res, err)
}

// OTAWebhook receives publish callbacks only.
func (h *Handler) OTAWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Event is not a message.publish event or has invalid format")
		return
	}
	res, err := h.opts.Decoder.DecodePublish(body)
	if err != nil && !isPayloadError(err) {
		h.opts.Metrics.ObserveWebhook("invalid", "rejected")
		h.Logger.Error().Err(err).Bytes("body", body).Msg("Rejected OTA callback")
		writeError(w, http.StatusBadRequest, "Event is not a message.publish event or has invalid format")
		return
	}
	h.dispatch(w, r, res, err)
}

// dispatch applies a decoded callback. The broker gets a success answer for
// everything that reaches this point, including dropped OTA payloads and
// downstream failures.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, res ingress.Result, decodeErr error) {
	// The broker may hang up once it has its answer; fanout must still run.
	ctx := context.WithoutCancel(r.Context())

	if decodeErr != nil {
		h.opts.Metrics.ObserveWebhook(res.Kind.String(), "dropped")
		h.Logger.Warn().Err(decodeErr).Str("client_id", res.ClientID).Msg("OTA payload dropped")
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Message: constants.MessageOTAReceived})
		return
	}

	switch res.Kind {
	case ingress.KindIgnored:
		h.opts.Metrics.ObserveWebhook(res.Kind.String(), "ignored")
		h.Logger.Debug().Str("client_id", res.ClientID).Str("event", res.Event).Msg(res.Message)
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Message: res.Message, DeviceID: res.DeviceID})

	case ingress.KindConnection:
		rec := h.opts.Presence.HandleConnection(ctx, res.Connection)
		h.opts.Metrics.ObserveWebhook(res.Kind.String(), "accepted")
		now := time.Now().UTC()
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, DeviceID: rec.DeviceID, Status: rec.Status, Timestamp: &now})

	case ingress.KindOTA:
		h.opts.Presence.HandleOTA(ctx, res.OTA)
		h.opts.Metrics.ObserveWebhook(res.Kind.String(), "accepted")
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Message: constants.MessageOTAReceived})
	}
}

func isPayloadError(err error) bool {
	var perr *ingress.PayloadError
	return errors.As(err, &perr)
}
