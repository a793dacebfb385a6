package ihex

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
)

var (
	ErrSyntax      = errors.New("malformed hex line")
	ErrChecksum    = errors.New("hex line checksum mismatch")
	ErrUnsupported = errors.New("unsupported hex record type")
	ErrNoEOF       = errors.New("missing end-of-file record")
	ErrOverlap     = errors.New("overlapping data")
)

// Segment is a contiguous run of image bytes.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the address after the last byte.
func (s Segment) End() uint32 {
	return s.Address + uint32(len(s.Data))
}

// Image is the content of an Intel HEX file.
type Image struct {
	Segments []Segment // sorted by address, non-overlapping
	Start    uint32    // entry point from a start linear address record
	HasStart bool
}

// ReadFile parses the Intel HEX file at path.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads Intel HEX records 00, 01, 04 and 05.
func Parse(r io.Reader) (*Image, error) {
	var (
		img  Image
		base uint32
		cur  = -1 // segment being extended
		eof  bool
	)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if eof {
			return nil, fmt.Errorf("line %d: %w: data after end-of-file", line, ErrSyntax)
		}
		if text[0] != ':' {
			return nil, fmt.Errorf("line %d: %w: missing ':'", line, ErrSyntax)
		}

		buf, err := hex.DecodeString(text[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", line, ErrSyntax, err)
		}
		if len(buf) < 5 || len(buf) != 5+int(buf[0]) {
			return nil, fmt.Errorf("line %d: %w: length %d", line, ErrSyntax, len(buf))
		}
		var sum byte
		for _, v := range buf {
			sum += v
		}
		if sum != 0 {
			return nil, fmt.Errorf("line %d: %w", line, ErrChecksum)
		}

		data := buf[4 : 4+buf[0]]
		switch buf[3] {
		case 0x00:
			addr := base + (uint32(buf[1])<<8 | uint32(buf[2]))
			if cur < 0 || img.Segments[cur].End() != addr {
				img.Segments = append(img.Segments, Segment{Address: addr})
				cur = len(img.Segments) - 1
			}
			img.Segments[cur].Data = append(img.Segments[cur].Data, data...)
		case 0x01:
			eof = true
		case 0x04:
			if len(data) != 2 {
				return nil, fmt.Errorf("line %d: %w: extended address carries %d bytes", line, ErrSyntax, len(data))
			}
			base = uint32(data[0])<<24 | uint32(data[1])<<16
		case 0x05:
			if len(data) != 4 {
				return nil, fmt.Errorf("line %d: %w: start address carries %d bytes", line, ErrSyntax, len(data))
			}
			img.Start = uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
			img.HasStart = true
		default:
			return nil, fmt.Errorf("line %d: %w 0x%02X", line, ErrUnsupported, buf[3])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !eof {
		return nil, ErrNoEOF
	}

	sort.Slice(img.Segments, func(i, j int) bool {
		return img.Segments[i].Address < img.Segments[j].Address
	})
	for i := 1; i < len(img.Segments); i++ {
		if img.Segments[i].Address < img.Segments[i-1].End() {
			return nil, fmt.Errorf("%w at 0x%08X", ErrOverlap, img.Segments[i].Address)
		}
	}
	return &img, nil
}

// Size returns the number of data bytes.
func (img *Image) Size() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// Bounds returns the lowest address and the address after the highest byte.
func (img *Image) Bounds() (start, end uint32) {
	if len(img.Segments) == 0 {
		return 0, 0
	}
	return img.Segments[0].Address, img.Segments[len(img.Segments)-1].End()
}

// Aligned returns the segments widened to unit boundaries and filled with
// fill. Segments that meet after widening are merged.
func (img *Image) Aligned(unit uint32, fill byte) []Segment {
	var out []Segment
	for _, s := range img.Segments {
		start := s.Address &^ (unit - 1)
		end := (s.End() + unit - 1) &^ (unit - 1)

		if n := len(out); n > 0 && out[n-1].End() >= start {
			prev := &out[n-1]
			off := int(s.Address - prev.Address)
			for len(prev.Data) < off {
				prev.Data = append(prev.Data, fill)
			}
			// Anything past off is alignment fill
			prev.Data = append(prev.Data[:off], s.Data...)
			for prev.End() < end {
				prev.Data = append(prev.Data, fill)
			}
			continue
		}

		data := make([]byte, 0, end-start)
		for a := start; a < s.Address; a++ {
			data = append(data, fill)
		}
		data = append(data, s.Data...)
		for uint32(len(data)) < end-start {
			data = append(data, fill)
		}
		out = append(out, Segment{Address: start, Data: data})
	}
	return out
}

// Records converts segments into WriteFlash records of at most chunk data
// bytes. An ExtendedAddress record precedes the first data record and every
// record that enters a new 64 KiB window. The stream ends with EndOfFile.
func Records(segments []Segment, chunk int) []protocol.Record {
	if chunk <= 0 || chunk > protocol.MaxDataSize {
		chunk = protocol.MaxDataSize
	}

	var (
		records []protocol.Record
		window  uint32
		started bool
	)
	for _, s := range segments {
		for off := 0; off < len(s.Data); {
			addr := s.Address + uint32(off)
			if !started || addr>>16 != window {
				window = addr >> 16
				started = true
				records = append(records, protocol.NewExtendedAddress(addr))
			}

			n := chunk
			if rest := len(s.Data) - off; rest < n {
				n = rest
			}
			// Do not cross into the next 64 KiB window
			if toWindow := int(0x10000 - addr&0xFFFF); toWindow < n {
				n = toWindow
			}

			records = append(records, protocol.NewDataRecord(uint16(addr), s.Data[off:off+n]))
			off += n
		}
	}
	return append(records, protocol.NewEndOfFile())
}
