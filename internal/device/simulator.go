package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/jacobin-thx/G474-bootloader/internal/flash"
)

// STM32G474 identity register value (DBGMCU IDCODE & 0xFFF)
const IdentityG474 = 0x469

var (
	ErrNoApplication = errors.New("no application installed")
	ErrBadStack      = errors.New("initial stack pointer outside SRAM")
)

// Memory is the flash content the simulator boots from.
type Memory interface {
	Read(address, n uint32) ([]byte, error)
}

// Config describes the simulated chip.
type Config struct {
	Identity         uint16
	DualBank         bool
	ApplicationStart uint32
	SRAMBase         uint32
	SRAMSize         uint32
}

// Vector is the start of an application vector table.
type Vector struct {
	StackPointer uint32
	ResetHandler uint32
}

// Simulator stands in for the chip around the bootloader core: the
// identity register, the DBANK option bit, the status LED and the jump
// into the application.
type Simulator struct {
	config Config
	memory Memory

	mu      sync.Mutex
	led     bool
	toggles int
	started *Vector
	onStart func(Vector)
}

// NewSimulator creates a simulated chip booting from mem.
func NewSimulator(config Config, mem Memory) *Simulator {
	return &Simulator{config: config, memory: mem}
}

// OnStart registers fn to run when the application is started.
func (s *Simulator) OnStart(fn func(Vector)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = fn
}

// Identity returns the identity register value.
func (s *Simulator) Identity() uint16 {
	return s.config.Identity
}

// DualBank reports the DBANK option bit.
func (s *Simulator) DualBank() bool {
	return s.config.DualBank
}

// Toggle flips the status LED.
func (s *Simulator) Toggle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.led = !s.led
	s.toggles++
}

// LED returns the LED state and how often it was toggled.
func (s *Simulator) LED() (on bool, toggles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led, s.toggles
}

// ReadVector reads the stack pointer and reset handler at the application start.
func (s *Simulator) ReadVector() (Vector, error) {
	raw, err := s.memory.Read(s.config.ApplicationStart, 8)
	if err != nil {
		return Vector{}, fmt.Errorf("read vector table: %w", err)
	}
	return Vector{
		StackPointer: binary.LittleEndian.Uint32(raw[0:4]),
		ResetHandler: binary.LittleEndian.Uint32(raw[4:8]),
	}, nil
}

// CheckApplication rejects an erased vector table or a stack pointer
// that does not point into SRAM.
func (s *Simulator) CheckApplication() error {
	v, err := s.ReadVector()
	if err != nil {
		return err
	}
	if v.StackPointer == 0xFFFFFFFF || v.ResetHandler == 0xFFFFFFFF {
		return ErrNoApplication
	}
	// The initial stack pointer may sit one past the end of SRAM
	end := uint64(s.config.SRAMBase) + uint64(s.config.SRAMSize)
	if v.StackPointer < s.config.SRAMBase || uint64(v.StackPointer) > end {
		return fmt.Errorf("%w: 0x%08X", ErrBadStack, v.StackPointer)
	}
	return nil
}

// JumpToApplication records the vector the core would hand control to.
func (s *Simulator) JumpToApplication() {
	v, err := s.ReadVector()
	if err != nil {
		return
	}

	s.mu.Lock()
	s.started = &v
	fn := s.onStart
	s.mu.Unlock()

	if fn != nil {
		fn(v)
	}
}

// Started returns the vector used by the last JumpToApplication.
func (s *Simulator) Started() (Vector, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started == nil {
		return Vector{}, false
	}
	return *s.started, true
}

// Profile returns the simulator configuration for the STM32G474 with the
// given flash geometry.
func Profile(g flash.Geometry) Config {
	return Config{
		Identity:         IdentityG474,
		DualBank:         true,
		ApplicationStart: g.ApplicationStart(),
		SRAMBase:         0x20000000,
		SRAMSize:         128 * 1024,
	}
}
