package bootloader

import (
	"time"

	"github.com/jacobin-thx/G474-bootloader/internal/flash"
	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
	"github.com/jacobin-thx/G474-bootloader/internal/transport"
)

// scriptedLink replays host bursts. A Receive that cannot be satisfied
// from the current burst consumes what is left of it and times out; the
// next Receive starts on the following burst. Once every burst is used
// up, Receive reports the link as closed.
type scriptedLink struct {
	bursts [][]byte
	out    []byte
}

func newScriptedLink(bursts ...[]byte) *scriptedLink {
	return &scriptedLink{bursts: bursts}
}

func (l *scriptedLink) Receive(buf []byte, _ time.Duration) error {
	if len(l.bursts) == 0 {
		return transport.ErrClosed
	}
	cur := l.bursts[0]
	if len(cur) < len(buf) {
		l.bursts = l.bursts[1:]
		return transport.ErrTimeout
	}
	copy(buf, cur)
	l.bursts[0] = cur[len(buf):]
	if len(l.bursts[0]) == 0 {
		l.bursts = l.bursts[1:]
	}
	return nil
}

func (l *scriptedLink) Transmit(buf []byte) error {
	l.out = append(l.out, buf...)
	return nil
}

type programCall struct {
	Address uint32
	Value   uint64
}

// recordingDriver records every flash call. It keeps programmed values so
// it can serve as a flash.Reader.
type recordingDriver struct {
	erases   []EraseStep
	programs []programCall
	unlocks  int
	locks    int

	eraseErr   error
	programErr error
	corrupt    bool
	words      map[uint32]uint64
}

func (d *recordingDriver) Unlock() error {
	d.unlocks++
	return nil
}

func (d *recordingDriver) Lock() error {
	d.locks++
	return nil
}

func (d *recordingDriver) Erase(bank flash.Bank, startPage, count uint32) error {
	if d.eraseErr != nil {
		return d.eraseErr
	}
	d.erases = append(d.erases, EraseStep{Bank: bank, StartPage: startPage, Count: count})
	return nil
}

func (d *recordingDriver) ProgramDoubleWord(address uint32, value uint64) error {
	if d.programErr != nil {
		return d.programErr
	}
	d.programs = append(d.programs, programCall{Address: address, Value: value})
	if d.words == nil {
		d.words = make(map[uint32]uint64)
	}
	if d.corrupt {
		value ^= 1
	}
	d.words[address] = value
	return nil
}

func (d *recordingDriver) ReadDoubleWord(address uint32) (uint64, error) {
	if v, ok := d.words[address]; ok {
		return v, nil
	}
	return ^uint64(0), nil
}

type fakeDevice struct {
	id     uint16
	single bool
}

func (d fakeDevice) Identity() uint16 { return d.id }
func (d fakeDevice) DualBank() bool   { return !d.single }

type fakeHandoff struct {
	checkErr error
	jumps    int
}

func (h *fakeHandoff) CheckApplication() error { return h.checkErr }
func (h *fakeHandoff) JumpToApplication()      { h.jumps++ }

type fakeLED struct {
	toggles int
}

func (l *fakeLED) Toggle() { l.toggles++ }

// frame encodes a record for the wire and panics if it does not fit.
func frame(rec protocol.Record) []byte {
	b, err := rec.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// burst concatenates byte slices into a single host burst.
func burst(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// eraseCommand returns EraseFlash followed by a little-endian page count.
func eraseCommand(pages uint32) []byte {
	return []byte{byte(protocol.CmdEraseFlash), byte(pages), byte(pages >> 8), byte(pages >> 16), byte(pages >> 24)}
}
