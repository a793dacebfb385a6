package bootloader

import (
	"github.com/jacobin-thx/G474-bootloader/internal/flash"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Session is the flash state shared by the erase planner and the flash
// writer for the lifetime of one bootloader run. The erase watermark is
// the first address not known to be erased; it starts at zero, so nothing
// can be programmed before the first erase.
type Session struct {
	id        ulid.ULID
	geometry  flash.Geometry
	driver    flash.Driver
	watermark uint32
	verify    bool
	log       zerolog.Logger
}

// NewSession starts a session with nothing erased.
func NewSession(g flash.Geometry, driver flash.Driver) *Session {
	return &Session{
		id:       ulid.Make(),
		geometry: g,
		driver:   driver,
		log:      zerolog.Nop(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() ulid.ULID {
	return s.id
}

// Geometry returns the flash layout the session plans against.
func (s *Session) Geometry() flash.Geometry {
	return s.geometry
}

// Watermark returns the erase watermark.
func (s *Session) Watermark() uint32 {
	return s.watermark
}

// bracket unlocks the flash controller, runs fn and locks it again on
// every path. A lock failure is reported only if fn succeeded.
func (s *Session) bracket(fn func() error) (err error) {
	defer func() {
		if lerr := s.driver.Lock(); lerr != nil && err == nil {
			err = lerr
		}
	}()
	if err := s.driver.Unlock(); err != nil {
		return err
	}
	return fn()
}
