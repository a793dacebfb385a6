package flash

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Memory is an in-memory dual-bank flash that behaves like the controller:
// it refuses to erase or program while locked, and refuses to program a
// double word that is not erased.
type Memory struct {
	mu       sync.Mutex
	geometry Geometry
	data     []byte
	locked   bool

	// Counters for inspection by callers
	erasedPages      int
	programmedDWords int
	unlocks, relocks int
}

// NewMemory returns a locked, fully erased flash with the given geometry.
func NewMemory(g Geometry) (*Memory, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	data := make([]byte, g.Size())
	for i := range data {
		data[i] = ErasedByte
	}
	return &Memory{geometry: g, data: data, locked: true}, nil
}

// Geometry returns the flash layout.
func (m *Memory) Geometry() Geometry {
	return m.geometry
}

// Unlock enables erase and program operations.
func (m *Memory) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
	m.unlocks++
	return nil
}

// Lock disables erase and program operations.
func (m *Memory) Lock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = true
	m.relocks++
	return nil
}

// Locked reports whether the flash control is locked.
func (m *Memory) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// Erase sets count pages of bank, starting at startPage, to ErasedByte.
func (m *Memory) Erase(bank Bank, startPage, count uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bank != Bank1 && bank != Bank2 {
		return &PageError{Bank: bank, Page: startPage, Err: ErrPageRange}
	}
	if m.locked {
		return &PageError{Bank: bank, Page: startPage, Err: ErrLocked}
	}
	if uint64(startPage)+uint64(count) > uint64(m.geometry.PagesPerBank) {
		return &PageError{Bank: bank, Page: startPage, Err: ErrPageRange}
	}

	for page := startPage; page < startPage+count; page++ {
		off := m.offset(m.geometry.PageAddress(bank, page))
		for i := off; i < off+m.geometry.PageSize; i++ {
			m.data[i] = ErasedByte
		}
		m.erasedPages++
	}
	return nil
}

// ProgramDoubleWord writes value little-endian at address.
func (m *Memory) ProgramDoubleWord(address uint32, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked {
		return fmt.Errorf("program 0x%08X: %w", address, ErrLocked)
	}
	if address%DoubleWordSize != 0 {
		return fmt.Errorf("program 0x%08X: %w", address, ErrUnaligned)
	}
	if !m.geometry.Contains(address, DoubleWordSize) {
		return fmt.Errorf("program 0x%08X: %w", address, ErrOutOfRange)
	}

	off := m.offset(address)
	for _, b := range m.data[off : off+DoubleWordSize] {
		if b != ErasedByte {
			return fmt.Errorf("program 0x%08X: %w", address, ErrNotErased)
		}
	}
	binary.LittleEndian.PutUint64(m.data[off:off+DoubleWordSize], value)
	m.programmedDWords++
	return nil
}

// ReadDoubleWord reads the little-endian double word at address.
func (m *Memory) ReadDoubleWord(address uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.geometry.Contains(address, DoubleWordSize) {
		return 0, fmt.Errorf("read 0x%08X: %w", address, ErrOutOfRange)
	}
	off := m.offset(address)
	return binary.LittleEndian.Uint64(m.data[off : off+DoubleWordSize]), nil
}

// Read copies n bytes starting at address.
func (m *Memory) Read(address, n uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.geometry.Contains(address, n) {
		return nil, fmt.Errorf("read 0x%08X+%d: %w", address, n, ErrOutOfRange)
	}
	off := m.offset(address)
	out := make([]byte, n)
	copy(out, m.data[off:off+n])
	return out, nil
}

// Load writes raw bytes at address, bypassing erase and lock rules.
// It models content that was on the chip before the bootloader ran.
func (m *Memory) Load(address uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.geometry.Contains(address, uint32(len(data))) {
		return fmt.Errorf("load 0x%08X+%d: %w", address, len(data), ErrOutOfRange)
	}
	copy(m.data[m.offset(address):], data)
	return nil
}

// Stats returns erase, program, unlock and lock counts.
func (m *Memory) Stats() (erasedPages, programmed, unlocks, locks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.erasedPages, m.programmedDWords, m.unlocks, m.relocks
}

func (m *Memory) offset(address uint32) uint32 {
	return address - m.geometry.Base
}
