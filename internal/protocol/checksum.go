package protocol

// Checksum sums the length+5 bytes of a frame, checksum byte included.
// A valid frame sums to zero. A frame whose declared size exceeds
// MaxFrameSize, or that is shorter than it declares, yields 1.
func Checksum(frame []byte) byte {
	if len(frame) == 0 {
		return 1
	}
	size := int(frame[0]) + FrameOverhead
	if size > MaxFrameSize || size > len(frame) {
		return 1
	}

	var sum byte
	for _, b := range frame[:size] {
		sum += b
	}
	return sum
}

// ChecksumFor returns the trailing byte that makes body sum to zero.
func ChecksumFor(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return ^sum + 1
}

// VerifyFrame reports why a frame fails the checksum validator, if it does.
func VerifyFrame(frame []byte) error {
	if len(frame) == 0 || int(frame[0])+FrameOverhead > MaxFrameSize {
		return ErrFrameTooLarge
	}
	if Checksum(frame) != 0 {
		return ErrChecksumMismatch
	}
	return nil
}
