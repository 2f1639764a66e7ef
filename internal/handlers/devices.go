package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type snapshotResponse struct {
	Success bool                    `json:"success"`
	Devices []models.PresenceRecord `json:"devices"`
	Summary models.Summary          `json:"summary"`
}

type deviceResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message,omitempty"`
	Device  models.PresenceRecord `json:"device"`
}

type resetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Cleared int    `json:"cleared"`
}

// DeviceStatus returns the full snapshot, or one device with ?device_id=.
func (h *Handler) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("device_id"); id != "" {
		h.writeDevice(w, id)
		return
	}
	devices, summary := h.opts.Presence.Snapshot()
	if devices == nil {
		devices = []models.PresenceRecord{}
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Success: true, Devices: devices, Summary: summary})
}

// Device returns a single device.
func (h *Handler) Device(w http.ResponseWriter, r *http.Request) {
	h.writeDevice(w, mux.Vars(r)["deviceId"])
}

func (h *Handler) writeDevice(w http.ResponseWriter, id string) {
	rec, ok := h.opts.Presence.Device(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{Success: true, Device: rec})
}

// OverrideStatus sets a device's status by hand.
func (h *Handler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	var req models.OverrideRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, overrideValidationMessage(err))
		return
	}

	rec, err := h.opts.Presence.Override(r.Context(), req.DeviceID, req.Status, req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{
		Success: true,
		Message: fmt.Sprintf("Device %s status updated to %s", rec.DeviceID, rec.Status),
		Device:  rec,
	})
}

func overrideValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "oneof" {
		return `Invalid status. Must be "online" or "offline"`
	}
	return "Missing required fields: device_id, status"
}

// ResetStatus clears every presence record.
func (h *Handler) ResetStatus(w http.ResponseWriter, r *http.Request) {
	cleared := h.opts.Presence.Reset(r.Context())
	writeJSON(w, http.StatusOK, resetResponse{Success: true, Message: "Device status cleared", Cleared: cleared})
}
