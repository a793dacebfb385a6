package config

import (
	"fmt"
)

// Validate checks configuration correctness as it will be after Normalize,
// so fields left at zero are checked against their defaults.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("missing configuration")
	}

	n := *cfg
	Normalize(&n)

	if n.Device.Identity > 0xFFF {
		return fmt.Errorf("device.identity 0x%X exceeds 12 bits", n.Device.Identity)
	}

	// ------------------------------------------------------------
	// FLASH GEOMETRY
	// ------------------------------------------------------------

	g := n.Geometry()
	if err := g.Validate(); err != nil {
		return fmt.Errorf("flash: %w", err)
	}

	// ------------------------------------------------------------
	// APPLICATION VECTOR
	// ------------------------------------------------------------

	start := n.Application.Start
	if start < g.ApplicationStart() {
		return fmt.Errorf(
			"application.start 0x%08X overlaps the reserved region ending at 0x%08X",
			start,
			g.ApplicationStart(),
		)
	}
	if !g.Contains(start, 8) {
		return fmt.Errorf("application.start 0x%08X is outside flash", start)
	}
	if start%4 != 0 {
		return fmt.Errorf("application.start 0x%08X is not word aligned", start)
	}
	if uint64(n.Application.SRAMBase)+uint64(n.Application.SRAMSize) > 1<<32 {
		return fmt.Errorf(
			"application SRAM 0x%08X+%d exceeds the 32-bit address space",
			n.Application.SRAMBase,
			n.Application.SRAMSize,
		)
	}

	// ------------------------------------------------------------
	// TIMEOUTS AND SERIAL
	// ------------------------------------------------------------

	timeouts := map[string]int{
		"timeouts.command_ms":     n.Timeouts.CommandMs,
		"timeouts.erase_count_ms": n.Timeouts.EraseCountMs,
		"timeouts.record_ms":      n.Timeouts.RecordMs,
	}
	for name, ms := range timeouts {
		if ms < 0 {
			return fmt.Errorf("%s must not be negative (got %d)", name, ms)
		}
	}

	if n.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud must not be negative (got %d)", n.Serial.Baud)
	}

	return nil
}
