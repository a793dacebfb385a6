package config

import (
	"github.com/jacobin-thx/G474-bootloader/internal/device"
	"github.com/jacobin-thx/G474-bootloader/internal/flash"
	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
)

// Normalize fills defaults for every field left at zero.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Device.Name == "" {
		cfg.Device.Name = "STM32G474"
	}
	if cfg.Device.Identity == 0 {
		cfg.Device.Identity = device.IdentityG474
	}
	if cfg.Device.DualBank == nil {
		dual := true
		cfg.Device.DualBank = &dual
	}

	// Geometry defaults apply field by field
	def := flash.STM32G474
	f := &cfg.Flash
	if f.Base == 0 {
		f.Base = def.Base
	}
	if f.PageSize == 0 {
		f.PageSize = def.PageSize
	}
	if f.PagesPerBank == 0 {
		f.PagesPerBank = def.PagesPerBank
	}
	if f.ReservedPages == 0 {
		f.ReservedPages = def.ReservedPages
	}

	a := &cfg.Application
	if a.Start == 0 {
		a.Start = cfg.Geometry().ApplicationStart()
	}
	if a.SRAMBase == 0 {
		a.SRAMBase = 0x20000000
	}
	if a.SRAMSize == 0 {
		a.SRAMSize = 128 * 1024
	}

	t := &cfg.Timeouts
	if t.CommandMs == 0 {
		t.CommandMs = int(protocol.CommandTimeout.Milliseconds())
	}
	if t.EraseCountMs == 0 {
		t.EraseCountMs = int(protocol.EraseCountTimeout.Milliseconds())
	}
	if t.RecordMs == 0 {
		t.RecordMs = int(protocol.RecordTimeout.Milliseconds())
	}

	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = protocol.DefaultBaudRate
	}
}
