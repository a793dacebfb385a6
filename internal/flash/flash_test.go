package flash

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory(STM32G474)
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	return m
}

func TestGeometry_STM32G474(t *testing.T) {
	g := STM32G474
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name     string
		got      uint32
		expected uint32
	}{
		{"BankSize", g.BankSize(), 0x40000},
		{"Size", g.Size(), 0x80000},
		{"ErasablePages", g.ErasablePages(), 248},
		{"ApplicationStart", g.ApplicationStart(), 0x08004000},
		{"PageAddress(bank1, 8)", g.PageAddress(Bank1, 8), 0x08004000},
		{"PageAddress(bank2, 0)", g.PageAddress(Bank2, 0), 0x08040000},
		{"PageAddress(bank2, 3)", g.PageAddress(Bank2, 3), 0x08041800},
	}

	for _, tc := range tests {
		if tc.got != tc.expected {
			t.Errorf("%s = 0x%X, want 0x%X", tc.name, tc.got, tc.expected)
		}
	}
}

func TestGeometry_ValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		g    Geometry
	}{
		{"zero page size", Geometry{Base: 0x08000000, PageSize: 0, PagesPerBank: 128, ReservedPages: 8}},
		{"unaligned page size", Geometry{Base: 0x08000000, PageSize: 1020, PagesPerBank: 128, ReservedPages: 8}},
		{"no pages", Geometry{Base: 0x08000000, PageSize: 2048, PagesPerBank: 0}},
		{"reserved covers bank", Geometry{Base: 0x08000000, PageSize: 2048, PagesPerBank: 8, ReservedPages: 8}},
		{"past 4 GiB", Geometry{Base: 0xFFFF0000, PageSize: 2048, PagesPerBank: 128, ReservedPages: 8}},
	}

	for _, tc := range tests {
		if err := tc.g.Validate(); err == nil {
			t.Errorf("Validate(%s) expected error, got nil", tc.name)
		}
	}
}

func TestGeometry_PagesFor(t *testing.T) {
	g := STM32G474
	start := g.ApplicationStart()

	tests := []struct {
		end      uint32
		expected uint32
	}{
		{start, 1},
		{start + 4, 1},
		{start + 2040, 1},
		// Last double word ends on the page boundary: guard needs one more page
		{start + 2048, 2},
		{start + 2049, 2},
		{start + 120*2048, 121},
	}

	for _, tc := range tests {
		pages := g.PagesFor(tc.end)
		if pages != tc.expected {
			t.Errorf("PagesFor(0x%08X) = %d, want %d", tc.end, pages, tc.expected)
		}

		// Every written double word must sit strictly below the watermark
		watermark := g.Base + (pages+g.ReservedPages)*g.PageSize
		lastUnit := (tc.end + DoubleWordSize - 1) &^ (DoubleWordSize - 1)
		if tc.end > start && lastUnit >= watermark {
			t.Errorf("PagesFor(0x%08X) = %d leaves end 0x%08X at or above watermark 0x%08X", tc.end, pages, lastUnit, watermark)
		}
	}
}

func TestMemory_StartsErasedAndLocked(t *testing.T) {
	m := newTestMemory(t)
	if !m.Locked() {
		t.Error("new Memory is unlocked, want locked")
	}

	data, err := m.Read(STM32G474.Base, 16)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte{ErasedByte}, 16)) {
		t.Errorf("Read() = % X, want all FF", data)
	}
}

func TestMemory_ProgramRequiresUnlock(t *testing.T) {
	m := newTestMemory(t)
	err := m.ProgramDoubleWord(0x08004000, 0)
	if !errors.Is(err, ErrLocked) {
		t.Errorf("ProgramDoubleWord() locked error = %v, want %v", err, ErrLocked)
	}
}

func TestMemory_ProgramAndRead(t *testing.T) {
	m := newTestMemory(t)
	m.Unlock()

	if err := m.ProgramDoubleWord(0x08004000, 0xFFFFFFFFEFBEADDE); err != nil {
		t.Fatalf("ProgramDoubleWord() error = %v", err)
	}

	data, _ := m.Read(0x08004000, 8)
	expected := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(data, expected) {
		t.Errorf("Read() = % X, want % X", data, expected)
	}

	v, err := m.ReadDoubleWord(0x08004000)
	if err != nil {
		t.Fatalf("ReadDoubleWord() error = %v", err)
	}
	if v != 0xFFFFFFFFEFBEADDE {
		t.Errorf("ReadDoubleWord() = 0x%016X, want 0xFFFFFFFFEFBEADDE", v)
	}
}

func TestMemory_ProgramRejects(t *testing.T) {
	m := newTestMemory(t)
	m.Unlock()
	m.ProgramDoubleWord(0x08004000, 0)

	tests := []struct {
		address  uint32
		expected error
	}{
		{0x08004000, ErrNotErased},
		{0x08004004, ErrUnaligned},
		{0x07FFFFF8, ErrOutOfRange},
		{0x08080000, ErrOutOfRange},
	}

	for _, tc := range tests {
		err := m.ProgramDoubleWord(tc.address, 0)
		if !errors.Is(err, tc.expected) {
			t.Errorf("ProgramDoubleWord(0x%08X) error = %v, want %v", tc.address, err, tc.expected)
		}
	}
}

func TestMemory_Erase(t *testing.T) {
	m := newTestMemory(t)
	m.Load(0x08040000, []byte{0x00, 0x01, 0x02})
	m.Unlock()

	if err := m.Erase(Bank2, 0, 1); err != nil {
		t.Fatalf("Erase() error = %v", err)
	}

	data, _ := m.Read(0x08040000, 3)
	if !bytes.Equal(data, []byte{0xFF, 0xFF, 0xFF}) {
		t.Errorf("Read() after Erase = % X, want FF FF FF", data)
	}

	erased, _, _, _ := m.Stats()
	if erased != 1 {
		t.Errorf("Stats() erased pages = %d, want 1", erased)
	}
}

func TestMemory_EraseRejects(t *testing.T) {
	m := newTestMemory(t)

	var pageErr *PageError
	err := m.Erase(Bank1, 8, 1)
	if !errors.As(err, &pageErr) || !errors.Is(err, ErrLocked) {
		t.Errorf("Erase() locked error = %v, want PageError wrapping %v", err, ErrLocked)
	}

	m.Unlock()
	if err := m.Erase(Bank1, 120, 9); !errors.Is(err, ErrPageRange) {
		t.Errorf("Erase(past bank end) error = %v, want %v", err, ErrPageRange)
	}
	if err := m.Erase(Bank(3), 0, 1); !errors.Is(err, ErrPageRange) {
		t.Errorf("Erase(bank 3) error = %v, want %v", err, ErrPageRange)
	}
}

func TestMemory_SnapshotRoundTrip(t *testing.T) {
	m := newTestMemory(t)
	m.Unlock()
	m.ProgramDoubleWord(0x08004000, 0x0102030405060708)
	m.ProgramDoubleWord(0x08040010, 0x1112131415161718)

	path := filepath.Join(t.TempDir(), "flash.cbor")
	if err := m.SaveFile(path); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}

	restored := newTestMemory(t)
	if err := restored.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	for _, addr := range []uint32{0x08004000, 0x08040010, 0x08000000} {
		want, _ := m.ReadDoubleWord(addr)
		got, _ := restored.ReadDoubleWord(addr)
		if got != want {
			t.Errorf("restored ReadDoubleWord(0x%08X) = 0x%016X, want 0x%016X", addr, got, want)
		}
	}
}

func TestMemory_LoadFileMissing(t *testing.T) {
	m := newTestMemory(t)
	if err := m.LoadFile(filepath.Join(t.TempDir(), "absent.cbor")); err != nil {
		t.Errorf("LoadFile(missing) error = %v, want nil", err)
	}
}

func TestMemory_SnapshotGeometryMismatch(t *testing.T) {
	m := newTestMemory(t)
	data, err := m.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR() error = %v", err)
	}

	other, _ := NewMemory(Geometry{Base: 0x08000000, PageSize: 4096, PagesPerBank: 64, ReservedPages: 4})
	if err := other.UnmarshalCBOR(data); err == nil {
		t.Error("UnmarshalCBOR() with different geometry expected error, got nil")
	}
}
