package protocol

import "errors"

var (
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrMalformedRecord  = errors.New("malformed record")
)
