package bootloader

import (
	"encoding/binary"
	"fmt"

	"github.com/jacobin-thx/G474-bootloader/internal/flash"
)

// PendingCapacity bounds the bytes waiting for a full double word. It
// holds one maximal record on top of a partial double word.
const PendingCapacity = 32

// PendingWrite is the write path state: the address of the next double
// word and the bytes not yet programmed.
type PendingWrite struct {
	Address uint32
	buf     [PendingCapacity]byte
	n       int
}

// Len returns the number of pending bytes.
func (p *PendingWrite) Len() int {
	return p.n
}

// Bytes returns the pending bytes. The slice is only valid until the next call.
func (p *PendingWrite) Bytes() []byte {
	return p.buf[:p.n]
}

// Append adds data to the buffer. When the buffer is empty the cursor
// moves to address; otherwise data continues the pending run and address
// is ignored.
func (p *PendingWrite) Append(address uint32, data []byte) error {
	if p.n+len(data) > PendingCapacity {
		return fmt.Errorf("%w: %d pending + %d new bytes", ErrPendingOverflow, p.n, len(data))
	}
	if p.n == 0 {
		p.Address = address
	}
	p.n += copy(p.buf[p.n:], data)
	return nil
}

// Pad fills the buffer with erased bytes up to the next double-word boundary.
func (p *PendingWrite) Pad() {
	for p.n%flash.DoubleWordSize != 0 {
		p.buf[p.n] = flash.ErasedByte
		p.n++
	}
}

// Flush programs whole double words from p below the erase watermark and
// moves the remainder to the front of the buffer. It returns the number of
// bytes programmed. Reaching the watermark stops the flush without error;
// the unprogrammed bytes stay pending.
func (s *Session) Flush(p *PendingWrite) (int, error) {
	if p.n < flash.DoubleWordSize || !s.below(p.Address) {
		return 0, nil
	}

	written := 0
	err := s.bracket(func() error {
		for p.n-written >= flash.DoubleWordSize {
			if !s.below(p.Address) {
				s.log.Debug().
					Str("address", fmt.Sprintf("0x%08X", p.Address)).
					Str("watermark", fmt.Sprintf("0x%08X", s.watermark)).
					Msg("Write stalled at erase watermark")
				return nil
			}

			value := binary.LittleEndian.Uint64(p.buf[written : written+flash.DoubleWordSize])
			if err := s.program(p.Address, value); err != nil {
				return err
			}
			p.Address += flash.DoubleWordSize
			written += flash.DoubleWordSize
		}
		return nil
	})

	// Carry unconsumed bytes over to the next accumulation
	p.n = copy(p.buf[:], p.buf[written:p.n])
	return written, err
}

// below reports whether the double word at address lies under the watermark.
func (s *Session) below(address uint32) bool {
	return uint64(address)+flash.DoubleWordSize < uint64(s.watermark)
}

func (s *Session) program(address uint32, value uint64) error {
	if err := s.driver.ProgramDoubleWord(address, value); err != nil {
		return err
	}
	if !s.verify {
		return nil
	}

	reader, ok := s.driver.(flash.Reader)
	if !ok {
		return nil
	}
	got, err := reader.ReadDoubleWord(address)
	if err != nil {
		return err
	}
	if got != value {
		return fmt.Errorf("%w: 0x%08X holds 0x%016X, want 0x%016X", ErrVerifyMismatch, address, got, value)
	}
	return nil
}
