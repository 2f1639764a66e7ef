package constants

import "time"

// OTA status strings reported by device firmware
const (
	OTAStatusProgress = "OTA Progress"
	OTAStatusSuccess  = "OTA Success"
	OTAStatusError    = "OTA Error"
	OTAStatusFailed   = "OTA Failed"
)

// OTAKind is the normalized OTA event variant.
type OTAKind string

const (
	OTAKindProgress OTAKind = "progress"
	OTAKindSuccess  OTAKind = "success"
	OTAKindError    OTAKind = "error"
)

// Labels shown by the client tracker once an OTA cycle terminates
const (
	OTALabelCompleted = "Completed"
	OTALabelFailed    = "Failed"
)

// OTA command dispatch
const (
	DefaultFirmwarePrefix  = "firmware/"
	DefaultPresignExpiry   = time.Hour
	DefaultOTACommandQOS   = 1
	DefaultDispatchWorkers = 4
)
