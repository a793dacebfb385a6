package bootloader

import "errors"

// Every error below is recovered inside the command loop and answered on
// the wire with NACK or the bad-option byte. Only transport failures
// other than timeouts end Run.
var (
	ErrUnsupportedCommand     = errors.New("unsupported command")
	ErrInvalidEraseRequest    = errors.New("invalid erase request")
	ErrUnsupportedFlashLayout = errors.New("flash is not configured for dual-bank operation")
	ErrWatermark              = errors.New("write target at or above erase watermark")
	ErrPendingOverflow        = errors.New("pending write buffer is full")
	ErrVerifyMismatch         = errors.New("programmed double word does not read back")
	ErrUnknownRecord          = errors.New("unknown record type")
	ErrTransferFaulted        = errors.New("transfer aborted after flash failure")

	// ErrHandedOff is returned by Poll once control passed to the application.
	ErrHandedOff = errors.New("control handed to application")
)
