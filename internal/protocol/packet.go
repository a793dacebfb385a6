package protocol

import (
	"encoding/binary"
	"fmt"
)

// RecordType is the type byte of a framed record.
type RecordType byte

// Record types carried by WriteFlash frames
const (
	RecordData            RecordType = 0x00
	RecordEndOfFile       RecordType = 0x01
	RecordExtendedAddress RecordType = 0x04
	RecordStartAddress    RecordType = 0x05
)

// RecordUnknown marks any type byte that is not a supported record type.
const RecordUnknown RecordType = 0xFF

// Frame layout: [length][addr_hi][addr_lo][type][data...][checksum]
const (
	FrameOverhead = 5
	MaxFrameSize  = 30
	MaxDataSize   = MaxFrameSize - FrameOverhead

	// MaxWireFrameSize is the largest frame a length byte can announce.
	MaxWireFrameSize = 0xFF + FrameOverhead
)

// Record is one decoded frame of the WriteFlash stream.
type Record struct {
	Type   RecordType
	Offset uint16
	Data   []byte
}

// ParseRecordType maps a type byte to a supported record type, or RecordUnknown.
func ParseRecordType(b byte) RecordType {
	switch t := RecordType(b); t {
	case RecordData, RecordEndOfFile, RecordExtendedAddress, RecordStartAddress:
		return t
	default:
		return RecordUnknown
	}
}

// String returns human-readable name for the record type
func (t RecordType) String() string {
	switch t {
	case RecordData:
		return "Data"
	case RecordEndOfFile:
		return "EndOfFile"
	case RecordExtendedAddress:
		return "ExtendedAddress"
	case RecordStartAddress:
		return "StartAddress"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(t))
	}
}

// NewDataRecord creates a data record at the given 16-bit offset.
func NewDataRecord(offset uint16, data []byte) Record {
	return Record{Type: RecordData, Offset: offset, Data: data}
}

// NewEndOfFile creates the terminating record.
func NewEndOfFile() Record {
	return Record{Type: RecordEndOfFile}
}

// NewExtendedAddress creates a record setting the upper 16 bits of the target address.
func NewExtendedAddress(base uint32) Record {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(base>>16))
	return Record{Type: RecordExtendedAddress, Data: data}
}

// ExtendedBase returns the 32-bit base address carried by an ExtendedAddress record.
func (r *Record) ExtendedBase() (uint32, error) {
	if r.Type != RecordExtendedAddress {
		return 0, fmt.Errorf("%w: %s is not an extended address record", ErrMalformedRecord, r.Type)
	}
	if len(r.Data) != 2 {
		return 0, fmt.Errorf("%w: extended address carries %d bytes, want 2", ErrMalformedRecord, len(r.Data))
	}
	return uint32(binary.BigEndian.Uint16(r.Data)) << 16, nil
}

// Encode serializes the record to a frame with its checksum appended.
func (r *Record) Encode() ([]byte, error) {
	if len(r.Data) > MaxDataSize {
		return nil, fmt.Errorf("%w: %d data bytes (max %d)", ErrFrameTooLarge, len(r.Data), MaxDataSize)
	}

	// Frame format:
	// 0: data length
	// 1-2: 16-bit offset (big-endian)
	// 3: record type
	// 4..: data
	// last: checksum
	frame := make([]byte, len(r.Data)+FrameOverhead)
	frame[0] = byte(len(r.Data))
	binary.BigEndian.PutUint16(frame[1:3], r.Offset)
	frame[3] = byte(r.Type)
	copy(frame[4:], r.Data)
	frame[len(frame)-1] = ChecksumFor(frame[:len(frame)-1])

	return frame, nil
}

// DecodeFrame validates a received frame and parses it into a record.
// The returned record's Data aliases the frame buffer.
func DecodeFrame(frame []byte) (*Record, error) {
	if err := VerifyFrame(frame); err != nil {
		return nil, err
	}

	length := int(frame[0])
	return &Record{
		Type:   ParseRecordType(frame[3]),
		Offset: binary.BigEndian.Uint16(frame[1:3]),
		Data:   frame[4 : 4+length],
	}, nil
}
