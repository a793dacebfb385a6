package flash

import (
	"bytes"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// snapshot is the persisted form of a Memory. Only pages holding
// programmed bytes are stored.
type snapshot struct {
	Base         uint32            `cbor:"1,keyasint"`
	PageSize     uint32            `cbor:"2,keyasint"`
	PagesPerBank uint32            `cbor:"3,keyasint"`
	Pages        map[uint32][]byte `cbor:"4,keyasint"` // page index across both banks
}

// MarshalCBOR encodes the flash contents.
func (m *Memory) MarshalCBOR() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := snapshot{
		Base:         m.geometry.Base,
		PageSize:     m.geometry.PageSize,
		PagesPerBank: m.geometry.PagesPerBank,
		Pages:        make(map[uint32][]byte),
	}

	erased := bytes.Repeat([]byte{ErasedByte}, int(m.geometry.PageSize))
	for page := uint32(0); page < 2*m.geometry.PagesPerBank; page++ {
		off := page * m.geometry.PageSize
		content := m.data[off : off+m.geometry.PageSize]
		if bytes.Equal(content, erased) {
			continue
		}
		snap.Pages[page] = append([]byte(nil), content...)
	}

	return cbor.Marshal(snap)
}

// UnmarshalCBOR restores flash contents. The snapshot geometry must match.
func (m *Memory) UnmarshalCBOR(data []byte) error {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode flash snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.geometry
	if snap.Base != g.Base || snap.PageSize != g.PageSize || snap.PagesPerBank != g.PagesPerBank {
		return fmt.Errorf("snapshot geometry 0x%08X/%d/%d does not match flash 0x%08X/%d/%d",
			snap.Base, snap.PageSize, snap.PagesPerBank, g.Base, g.PageSize, g.PagesPerBank)
	}

	for i := range m.data {
		m.data[i] = ErasedByte
	}
	for page, content := range snap.Pages {
		if page >= 2*g.PagesPerBank || uint32(len(content)) != g.PageSize {
			return fmt.Errorf("snapshot page %d is invalid (%d bytes)", page, len(content))
		}
		copy(m.data[page*g.PageSize:], content)
	}
	return nil
}

// SaveFile writes the flash contents to path.
func (m *Memory) SaveFile(path string) error {
	data, err := m.MarshalCBOR()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile restores flash contents from path. A missing file leaves the flash erased.
func (m *Memory) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.UnmarshalCBOR(data)
}
