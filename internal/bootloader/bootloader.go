package bootloader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jacobin-thx/G474-bootloader/internal/flash"
	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
	"github.com/jacobin-thx/G474-bootloader/internal/transport"
	"github.com/rs/zerolog"
)

// Device reports the identity register and option-byte state.
type Device interface {
	// Identity returns the 12-bit device ID (DBGMCU IDCODE & 0xFFF).
	Identity() uint16

	// DualBank reports whether the flash option bytes select dual-bank mode.
	DualBank() bool
}

// StatusIndicator is the liveness output, typically an LED.
type StatusIndicator interface {
	Toggle()
}

// Handoff transfers control to the installed application.
type Handoff interface {
	// CheckApplication reports why the application vector is unusable, if it is.
	CheckApplication() error

	// JumpToApplication starts the application. On hardware it does not return.
	JumpToApplication()
}

// Bootloader is the device-side command loop.
type Bootloader struct {
	transport transport.Transport
	device    Device
	session   *Session
	config    Config
	log       zerolog.Logger
}

// New creates a bootloader serving t with a fresh session over driver.
func New(t transport.Transport, driver flash.Driver, device Device, g flash.Geometry, opts ...Option) (*Bootloader, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flash geometry: %w", err)
	}

	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	session := NewSession(g, driver)
	session.verify = config.Verify
	log := config.Logger.With().Str("session_id", session.ID().String()).Logger()
	session.log = log

	return &Bootloader{
		transport: t,
		device:    device,
		session:   session,
		config:    config,
		log:       log,
	}, nil
}

// Session returns the flash session.
func (b *Bootloader) Session() *Session {
	return b.session
}

// Run polls for commands until ctx is done, the application is started,
// or the transport fails. It returns nil after a handoff.
func (b *Bootloader) Run(ctx context.Context) error {
	b.log.Info().Msg("Bootloader started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.Poll(ctx)
		if errors.Is(err, ErrHandedOff) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Poll waits for one command byte and serves it. A timeout is not an error.
func (b *Bootloader) Poll(ctx context.Context) error {
	if b.config.Status != nil {
		b.config.Status.Toggle()
	}

	var buf [1]byte
	err := b.transport.Receive(buf[:], b.config.CommandTimeout)
	if errors.Is(err, transport.ErrTimeout) {
		if b.config.ReadyBeacon {
			return b.respond(protocol.RespReady)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("receive command: %w", err)
	}

	cmd := protocol.ParseCommand(buf[0])
	b.log.Debug().Stringer("command", cmd).Msgf("Received command 0x%02X", buf[0])

	switch cmd {
	case protocol.CmdGetID:
		return b.sendIdentity()
	case protocol.CmdEraseFlash:
		return b.eraseFlash()
	case protocol.CmdWriteFlash:
		if err := b.respond(protocol.RespAck); err != nil {
			return err
		}
		return b.receiveRecords(ctx)
	case protocol.CmdStartApplication:
		return b.startApplication()
	default: // protocol.CommandUnknown
		b.log.Warn().Err(ErrUnsupportedCommand).Msgf("Rejected byte 0x%02X", buf[0])
		return b.respond(protocol.RespNack)
	}
}

// sendIdentity answers GetId with ACK and the identity in device byte order.
func (b *Bootloader) sendIdentity() error {
	if err := b.respond(protocol.RespAck); err != nil {
		return err
	}
	var id [protocol.IdentitySize]byte
	binary.LittleEndian.PutUint16(id[:], b.device.Identity())
	return b.transmit(id[:])
}

// eraseFlash checks the bank layout, reads the page count and runs the erase plan.
func (b *Bootloader) eraseFlash() error {
	if !b.device.DualBank() {
		b.log.Warn().Err(ErrUnsupportedFlashLayout).Msg("Erase refused")
		return b.respond(protocol.RespBadOption)
	}

	var count [protocol.EraseCountSize]byte
	err := b.transport.Receive(count[:], b.config.EraseCountTimeout)
	if errors.Is(err, transport.ErrTimeout) {
		b.log.Warn().Msg("Timed out waiting for erase page count")
		return b.respond(protocol.RespNack)
	}
	if err != nil {
		return fmt.Errorf("receive erase page count: %w", err)
	}

	plan, err := PlanErase(b.session.geometry, binary.LittleEndian.Uint32(count[:]))
	if err != nil {
		b.log.Warn().Err(err).Msg("Erase refused")
		return b.respond(protocol.RespNack)
	}
	if err := b.session.Erase(plan); err != nil {
		b.log.Error().Err(err).Msg("Erase failed")
		return b.respond(protocol.RespNack)
	}

	b.log.Info().
		Uint32("pages", plan.Pages).
		Str("watermark", fmt.Sprintf("0x%08X", plan.Watermark)).
		Msg("Flash erased")
	return b.respond(protocol.RespAck)
}

// startApplication hands off to the application when a handoff is configured.
func (b *Bootloader) startApplication() error {
	if b.config.Handoff == nil {
		b.log.Warn().Err(ErrUnsupportedCommand).Msg("StartApplication is not enabled")
		return b.respond(protocol.RespNack)
	}
	if err := b.config.Handoff.CheckApplication(); err != nil {
		b.log.Warn().Err(err).Msg("Application vector rejected")
		return b.respond(protocol.RespNack)
	}
	if err := b.respond(protocol.RespAck); err != nil {
		return err
	}

	b.log.Info().Msg("Jumping to application")
	b.config.Handoff.JumpToApplication()
	return ErrHandedOff
}

func (b *Bootloader) respond(code byte) error {
	return b.transmit([]byte{code})
}

func (b *Bootloader) transmit(buf []byte) error {
	if err := b.transport.Transmit(buf); err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	return nil
}
