package handlers

import (
	"net/http"

	"github.com/benmeehan/iot-fleet/internal/subscribers"
)

// SSEStream holds a server-sent events stream open until the client leaves
// or the registry drops the subscriber.
func (h *Handler) SSEStream(w http.ResponseWriter, r *http.Request) {
	sub, err := subscribers.NewSSESubscriber(w, h.opts.WriteTimeout)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to open event stream")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	if err := h.opts.Subscribers.Open(sub); err != nil {
		h.Logger.Warn().Err(err).Msg("Event stream handshake failed")
		return
	}

	select {
	case <-r.Context().Done():
	case <-sub.Done():
	}
	h.opts.Subscribers.Remove(sub.ID())
}

// WebSocketStream serves the same frames over a WebSocket.
func (h *Handler) WebSocketStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := subscribers.NewWebSocketSubscriber(conn, h.opts.SendBuffer, h.Logger)
	go sub.WritePump()
	go sub.ReadPump()

	if err := h.opts.Subscribers.Open(sub); err != nil {
		h.Logger.Warn().Err(err).Msg("WebSocket handshake failed")
		return
	}
	<-sub.Done()
	h.opts.Subscribers.Remove(sub.ID())
}
