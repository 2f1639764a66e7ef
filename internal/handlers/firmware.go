package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/internal/services"
)

type dispatchResponse struct {
	Message string                  `json:"message"`
	Results []models.DispatchResult `json:"results"`
}

// ListFirmware returns firmware builds keyed by commit.
func (h *Handler) ListFirmware(w http.ResponseWriter, r *http.Request) {
	if h.opts.Firmware == nil {
		writeError(w, http.StatusServiceUnavailable, "Firmware service is not configured")
		return
	}

	releases, err := h.opts.Firmware.Releases(r.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to list firmware")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch firmware list", Details: err.Error()})
		return
	}

	byCommit := make(map[string]models.FirmwareRelease, len(releases))
	for _, rel := range releases {
		byCommit[rel.CommitSHA] = rel
	}
	writeJSON(w, http.StatusOK, byCommit)
}

// UpdateFirmware sends the OTA command for a commit to the requested boards.
func (h *Handler) UpdateFirmware(w http.ResponseWriter, r *http.Request) {
	if h.opts.Firmware == nil {
		writeError(w, http.StatusServiceUnavailable, "Firmware service is not configured")
		return
	}

	var req models.DispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "A valid commitSha is required", Details: err.Error()})
		return
	}

	results, err := h.opts.Firmware.Dispatch(r.Context(), req.CommitSHA, req.Boards)
	switch {
	case errors.Is(err, services.ErrUnknownCommit):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Firmware for commit %s not found", req.CommitSHA))
		return
	case err != nil:
		h.Logger.Error().Err(err).Str("commit", req.CommitSHA).Msg("OTA dispatch failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to process OTA update request", Details: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, dispatchResponse{Message: "OTA command dispatch process completed", Results: results})
}
