package ihex

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
)

const sample = `:020000040800F2
:10400000000002200D41000815410008174100087A
:04401000DEADBEEF74
:040000050800419915
:00000001FF
`

func TestParse(t *testing.T) {
	img, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(img.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(img.Segments))
	}
	seg := img.Segments[0]
	if seg.Address != 0x08004000 || len(seg.Data) != 20 {
		t.Errorf("segment = 0x%08X+%d, want 0x08004000+20", seg.Address, len(seg.Data))
	}
	if !bytes.Equal(seg.Data[16:], []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("segment tail = % X, want DE AD BE EF", seg.Data[16:])
	}
	if !img.HasStart || img.Start != 0x08004199 {
		t.Errorf("start = 0x%08X (%v), want 0x08004199", img.Start, img.HasStart)
	}

	start, end := img.Bounds()
	if start != 0x08004000 || end != 0x08004014 {
		t.Errorf("Bounds() = 0x%08X, 0x%08X, want 0x08004000, 0x08004014", start, end)
	}
	if img.Size() != 20 {
		t.Errorf("Size() = %d, want 20", img.Size())
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected error
	}{
		{"missing colon", "00000001FF\n", ErrSyntax},
		{"bad hex", ":0000000G01\n", ErrSyntax},
		{"short length", ":0400000001FB\n:00000001FF\n", ErrSyntax},
		{"bad checksum", ":00000001FE\n", ErrChecksum},
		{"segment address", ":020000021000EC\n:00000001FF\n", ErrUnsupported},
		{"no end of file", ":0100000000FF\n", ErrNoEOF},
		{"data after end", ":00000001FF\n:0100000000FF\n", ErrSyntax},
		{"overlap", ":0200000000AA54\n:0100010000FE\n:00000001FF\n", ErrOverlap},
	}

	for _, tc := range tests {
		_, err := Parse(strings.NewReader(tc.input))
		if !errors.Is(err, tc.expected) {
			t.Errorf("%s: Parse() error = %v, want %v", tc.name, err, tc.expected)
		}
	}
}

func TestImage_Aligned(t *testing.T) {
	img := &Image{Segments: []Segment{
		{Address: 0x08004002, Data: []byte{1, 2, 3}},
		{Address: 0x08004006, Data: []byte{4, 5, 6, 7}},
		{Address: 0x08004100, Data: []byte{8}},
	}}

	got := img.Aligned(8, 0xFF)
	if len(got) != 2 {
		t.Fatalf("Aligned() = %d segments, want 2", len(got))
	}

	first := []byte{0xFF, 0xFF, 1, 2, 3, 0xFF, 4, 5, 6, 7, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if got[0].Address != 0x08004000 || !bytes.Equal(got[0].Data, first) {
		t.Errorf("Aligned()[0] = 0x%08X % X, want 0x08004000 % X", got[0].Address, got[0].Data, first)
	}

	second := []byte{8, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if got[1].Address != 0x08004100 || !bytes.Equal(got[1].Data, second) {
		t.Errorf("Aligned()[1] = 0x%08X % X, want 0x08004100 % X", got[1].Address, got[1].Data, second)
	}
}

func TestRecords(t *testing.T) {
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i)
	}
	// Crosses from window 0x0800 into 0x0801
	segments := []Segment{{Address: 0x0800FFF0, Data: data}}

	records := Records(segments, 16)

	expected := []struct {
		typ    protocol.RecordType
		offset uint16
		size   int
	}{
		{protocol.RecordExtendedAddress, 0, 2},
		{protocol.RecordData, 0xFFF0, 16},
		{protocol.RecordExtendedAddress, 0, 2},
		{protocol.RecordData, 0x0000, 16},
		{protocol.RecordData, 0x0010, 8},
		{protocol.RecordEndOfFile, 0, 0},
	}
	if len(records) != len(expected) {
		t.Fatalf("Records() = %d records, want %d", len(records), len(expected))
	}
	for i, want := range expected {
		got := records[i]
		if got.Type != want.typ || got.Offset != want.offset || len(got.Data) != want.size {
			t.Errorf("record %d = %s@0x%04X+%d, want %s@0x%04X+%d",
				i, got.Type, got.Offset, len(got.Data), want.typ, want.offset, want.size)
		}
	}

	if base, _ := records[2].ExtendedBase(); base != 0x08010000 {
		t.Errorf("second extended base = 0x%08X, want 0x08010000", base)
	}
	for i, rec := range records {
		if _, err := rec.Encode(); err != nil {
			t.Errorf("record %d Encode() error = %v", i, err)
		}
	}
}

func TestRecords_ClampsChunk(t *testing.T) {
	records := Records([]Segment{{Address: 0x08004000, Data: make([]byte, 60)}}, 100)
	for _, rec := range records {
		if len(rec.Data) > protocol.MaxDataSize {
			t.Errorf("record carries %d bytes, want at most %d", len(rec.Data), protocol.MaxDataSize)
		}
	}
}
