package protocol

import "time"

// Default serial link settings
const DefaultBaudRate = 115200

// Device-side receive timeouts
const (
	CommandTimeout    = 500 * time.Millisecond
	EraseCountTimeout = 30 * time.Millisecond
	RecordTimeout     = 30 * time.Millisecond
)

// EraseCountSize is the size of the little-endian page count following EraseFlash.
const EraseCountSize = 4

// IdentitySize is the size of the identity payload following the GetId ACK.
const IdentitySize = 2
