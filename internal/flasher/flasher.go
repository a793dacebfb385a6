package flasher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jacobin-thx/G474-bootloader/internal/flash"
	"github.com/jacobin-thx/G474-bootloader/internal/ihex"
	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
	"github.com/jacobin-thx/G474-bootloader/internal/transport"
	"github.com/rs/zerolog"
)

// Host-side response timeouts
const (
	ResponseTimeout = 1 * time.Second
	EraseTimeout    = 10 * time.Second // 248 pages at worst-case page erase time
)

var (
	ErrBadOption     = errors.New("device flash is not in dual-bank mode")
	ErrImageEmpty    = errors.New("image contains no data")
	ErrImageLocation = errors.New("image outside the application region")
)

// ResponseError reports an unexpected response byte.
type ResponseError struct {
	Command protocol.Command
	Got     byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: device answered 0x%02X (%s)", e.Command, e.Got, protocol.ResponseName(e.Got))
}

// ProgressCallback is called to report flash progress.
type ProgressCallback func(current, total int)

// Flasher drives the bootloader from the host side.
type Flasher struct {
	link     transport.Transport
	progress ProgressCallback
	retries  int
	chunk    int
	log      zerolog.Logger
}

// New creates a new Flasher on the given link.
func New(link transport.Transport) *Flasher {
	return &Flasher{
		link:    link,
		retries: 3,
		chunk:   16,
		log:     zerolog.Nop(),
	}
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

// SetRetries sets how often a NACKed record is resent.
func (f *Flasher) SetRetries(n int) {
	if n >= 0 {
		f.retries = n
	}
}

// SetChunkSize sets the data bytes per record (1..25).
func (f *Flasher) SetChunkSize(n int) {
	if n > 0 && n <= protocol.MaxDataSize {
		f.chunk = n
	}
}

// SetLogger sets the logger for protocol events.
func (f *Flasher) SetLogger(log zerolog.Logger) {
	f.log = log
}

// reportProgress calls the progress callback if set.
func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

// Identify sends GetId and returns the device identity.
func (f *Flasher) Identify() (uint16, error) {
	f.drain()
	if err := f.command(protocol.CmdGetID, ResponseTimeout); err != nil {
		return 0, err
	}

	var id [protocol.IdentitySize]byte
	if err := f.link.Receive(id[:], ResponseTimeout); err != nil {
		return 0, fmt.Errorf("read identity: %w", err)
	}
	return binary.LittleEndian.Uint16(id[:]), nil
}

// Erase erases pages of application flash.
func (f *Flasher) Erase(pages uint32) error {
	f.drain()

	msg := make([]byte, 1+protocol.EraseCountSize)
	msg[0] = byte(protocol.CmdEraseFlash)
	binary.LittleEndian.PutUint32(msg[1:], pages)
	if err := f.link.Transmit(msg); err != nil {
		return err
	}

	resp, err := f.readResponse(EraseTimeout)
	if err != nil {
		return fmt.Errorf("erase %d pages: %w", pages, err)
	}
	switch resp {
	case protocol.RespAck:
		return nil
	case protocol.RespBadOption:
		// The device did not consume the page count; let it reject those bytes
		time.Sleep(100 * time.Millisecond)
		f.drain()
		return ErrBadOption
	default:
		return &ResponseError{Command: protocol.CmdEraseFlash, Got: resp}
	}
}

// Write sends records inside one WriteFlash transfer. A NACKed record is
// resent up to the retry limit; if it still fails the transfer is closed
// with EndOfFile so the device returns to its command loop.
func (f *Flasher) Write(records []protocol.Record) error {
	f.drain()
	if err := f.command(protocol.CmdWriteFlash, ResponseTimeout); err != nil {
		return err
	}

	for i := range records {
		rec := &records[i]
		if err := f.sendRecord(rec); err != nil {
			if rec.Type != protocol.RecordEndOfFile {
				f.abort()
			}
			return fmt.Errorf("record %d (%s @0x%04X): %w", i, rec.Type, rec.Offset, err)
		}
		f.reportProgress(i+1, len(records))
	}
	return nil
}

// FlashImage erases the pages the image needs and programs it.
func (f *Flasher) FlashImage(img *ihex.Image, g flash.Geometry) error {
	if img.Size() == 0 {
		return ErrImageEmpty
	}
	start, end := img.Bounds()
	if start < g.ApplicationStart() || !g.Contains(start, end-start) {
		return fmt.Errorf("%w: 0x%08X..0x%08X", ErrImageLocation, start, end)
	}

	pages := g.PagesFor(end)
	if pages > g.ErasablePages() {
		return fmt.Errorf("%w: image needs %d pages, %d available", ErrImageLocation, pages, g.ErasablePages())
	}

	f.log.Info().Uint32("pages", pages).Msg("Erasing")
	if err := f.Erase(pages); err != nil {
		return err
	}

	records := ihex.Records(img.Aligned(flash.DoubleWordSize, flash.ErasedByte), f.chunk)
	f.log.Info().Int("records", len(records)).Msg("Writing")
	return f.Write(records)
}

// StartApplication asks the bootloader to jump to the application.
func (f *Flasher) StartApplication() error {
	f.drain()
	return f.command(protocol.CmdStartApplication, ResponseTimeout)
}

// sendRecord transmits a record until it is acknowledged.
func (f *Flasher) sendRecord(rec *protocol.Record) error {
	frame, err := rec.Encode()
	if err != nil {
		return err
	}

	var last error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if err := f.link.Transmit(frame); err != nil {
			return err
		}

		resp, err := f.readResponse(ResponseTimeout)
		if err != nil {
			return err
		}
		if resp == protocol.RespAck {
			return nil
		}

		last = &ResponseError{Command: protocol.CmdWriteFlash, Got: resp}
		f.log.Debug().Err(last).Int("attempt", attempt+1).Msg("Record rejected")
		if rec.Type == protocol.RecordEndOfFile {
			// EndOfFile ends the transfer even when rejected
			break
		}
	}
	return last
}

// abort ends a failed transfer.
func (f *Flasher) abort() {
	eof := protocol.NewEndOfFile()
	frame, _ := eof.Encode()
	if err := f.link.Transmit(frame); err != nil {
		return
	}
	f.readResponse(ResponseTimeout)
}

// command sends a single command byte and expects ACK.
func (f *Flasher) command(cmd protocol.Command, timeout time.Duration) error {
	if err := f.link.Transmit([]byte{byte(cmd)}); err != nil {
		return err
	}

	resp, err := f.readResponse(timeout)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if resp != protocol.RespAck {
		return &ResponseError{Command: cmd, Got: resp}
	}
	return nil
}

// readResponse reads one response byte, skipping ready beacons.
func (f *Flasher) readResponse(timeout time.Duration) (byte, error) {
	deadline := time.Now().Add(timeout)
	var buf [1]byte

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("timeout waiting for response: %w", transport.ErrTimeout)
		}
		if err := f.link.Receive(buf[:], remaining); err != nil {
			return 0, err
		}
		if buf[0] != protocol.RespReady {
			return buf[0], nil
		}
	}
}

// drain discards stale input such as ready beacons.
func (f *Flasher) drain() {
	if fl, ok := f.link.(interface{ Flush() error }); ok {
		fl.Flush()
		return
	}
	var buf [1]byte
	for {
		if err := f.link.Receive(buf[:], 5*time.Millisecond); err != nil {
			return
		}
	}
}
