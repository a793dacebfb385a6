package bootloader

import (
	"time"

	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
	"github.com/rs/zerolog"
)

// Config holds the bootloader configuration.
type Config struct {
	// Logger receives protocol events. Defaults to a disabled logger.
	Logger zerolog.Logger

	// CommandTimeout bounds the wait for one command byte
	CommandTimeout time.Duration

	// EraseCountTimeout bounds the wait for the erase page count
	EraseCountTimeout time.Duration

	// RecordTimeout bounds each read of a WriteFlash frame
	RecordTimeout time.Duration

	// ReadyBeacon sends protocol.RespReady whenever a command poll times out
	ReadyBeacon bool

	// Handoff enables StartApplication. Nil leaves the command unsupported.
	Handoff Handoff

	// Status is toggled once per command poll (optional)
	Status StatusIndicator

	// Verify reads back every programmed double word when the flash
	// driver implements flash.Reader
	Verify bool
}

func defaultConfig() Config {
	return Config{
		Logger:            zerolog.Nop(),
		CommandTimeout:    protocol.CommandTimeout,
		EraseCountTimeout: protocol.EraseCountTimeout,
		RecordTimeout:     protocol.RecordTimeout,
	}
}

// Option is a functional option for configuring the Bootloader.
type Option func(*Config)

// WithLogger sets the logger for protocol events.
//
// Example:
//
//	bl, _ := bootloader.New(t, mem, dev, g, bootloader.WithLogger(log.Logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTimeouts overrides the command, erase-count and record timeouts.
// Zero values keep the defaults.
func WithTimeouts(command, eraseCount, record time.Duration) Option {
	return func(c *Config) {
		if command > 0 {
			c.CommandTimeout = command
		}
		if eraseCount > 0 {
			c.EraseCountTimeout = eraseCount
		}
		if record > 0 {
			c.RecordTimeout = record
		}
	}
}

// WithReadyBeacon enables the ready byte on idle command polls.
func WithReadyBeacon(enabled bool) Option {
	return func(c *Config) {
		c.ReadyBeacon = enabled
	}
}

// WithStartApplication wires StartApplication to the given handoff.
//
// Example:
//
//	bl, _ := bootloader.New(t, mem, dev, g, bootloader.WithStartApplication(dev))
func WithStartApplication(h Handoff) Option {
	return func(c *Config) {
		c.Handoff = h
	}
}

// WithStatusIndicator sets the liveness output toggled on every poll.
func WithStatusIndicator(s StatusIndicator) Option {
	return func(c *Config) {
		c.Status = s
	}
}

// WithVerify enables read-back of every programmed double word.
func WithVerify(verify bool) Option {
	return func(c *Config) {
		c.Verify = verify
	}
}
