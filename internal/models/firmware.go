package models

import "time"

// FirmwareInfo describes one firmware object in the artifact store.
type FirmwareInfo struct {
	Key            string    `json:"key"`
	Board          string    `json:"board"`
	CommitSHA      string    `json:"commitSha"`
	FirmwareSHA256 string    `json:"firmwareSha256"`
	Size           int64     `json:"size"`
	LastModified   time.Time `json:"lastModified"`
}

// FirmwareRelease groups the per-board builds of one commit.
type FirmwareRelease struct {
	CommitSHA    string         `json:"commitSha"`
	Boards       []string       `json:"boards"`
	FirmwareInfo []FirmwareInfo `json:"firmwareInfo"`
}

// DispatchRequest asks for an OTA rollout of a commit to a set of boards.
// An empty board list targets every board the commit was built for.
type DispatchRequest struct {
	CommitSHA string   `json:"commitSha" validate:"required,hexadecimal,min=7,max=40"`
	Boards    []string `json:"boards" validate:"omitempty,dive,required"`
}

// DispatchResult is the outcome for a single board.
type DispatchResult struct {
	Board   string `json:"board"`
	Topic   string `json:"topic,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OTACommand is published to devices to start an update.
type OTACommand struct {
	OTA OTAInstruction `json:"OTA"`
}

// OTAInstruction points a device at a signed firmware download.
type OTAInstruction struct {
	FirmwareURL string `json:"firmwareUrl"`
	SHA256      string `json:"SHA256"`
}
