package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/jacobin-thx/G474-bootloader/embedded"
	"github.com/jacobin-thx/G474-bootloader/internal/device"
	"github.com/jacobin-thx/G474-bootloader/internal/flash"
	"gopkg.in/yaml.v3"
)

// Config is a device profile.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Flash       FlashConfig       `yaml:"flash"`
	Application ApplicationConfig `yaml:"application"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Serial      SerialConfig      `yaml:"serial"`
	Options     OptionsConfig     `yaml:"options"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	Name     string `yaml:"name"`
	Identity uint16 `yaml:"identity"`
	DualBank *bool  `yaml:"dual_bank"` // missing => true
}

// ---- FLASH GEOMETRY ----

type FlashConfig struct {
	Base          uint32 `yaml:"base"`
	PageSize      uint32 `yaml:"page_size"`
	PagesPerBank  uint32 `yaml:"pages_per_bank"`
	ReservedPages uint32 `yaml:"reserved_pages"`
}

// ---- APPLICATION ----

type ApplicationConfig struct {
	Start    uint32 `yaml:"start"` // 0 => first page after the reserved region
	SRAMBase uint32 `yaml:"sram_base"`
	SRAMSize uint32 `yaml:"sram_size"`
}

// ---- TIMEOUTS ----

type TimeoutConfig struct {
	CommandMs    int `yaml:"command_ms"`
	EraseCountMs int `yaml:"erase_count_ms"`
	RecordMs     int `yaml:"record_ms"`
}

// ---- SERIAL ----

type SerialConfig struct {
	Baud int `yaml:"baud"`
}

// ---- OPTIONS ----

type OptionsConfig struct {
	ReadyBeacon      bool `yaml:"ready_beacon"`
	StartApplication bool `yaml:"start_application"`
	Verify           bool `yaml:"verify"`
}

// Load reads a profile from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML profile. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &cfg, nil
}

// Default returns the embedded STM32G474 profile, validated and normalized.
func Default() *Config {
	cfg, err := Parse(embedded.DefaultProfile())
	if err != nil {
		panic(fmt.Sprintf("embedded profile: %v", err))
	}
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("embedded profile: %v", err))
	}
	Normalize(cfg)
	return cfg
}

// Geometry returns the flash layout.
func (c *Config) Geometry() flash.Geometry {
	return flash.Geometry{
		Base:          c.Flash.Base,
		PageSize:      c.Flash.PageSize,
		PagesPerBank:  c.Flash.PagesPerBank,
		ReservedPages: c.Flash.ReservedPages,
	}
}

// Simulator returns the simulated chip configuration.
func (c *Config) Simulator() device.Config {
	return device.Config{
		Identity:         c.Device.Identity,
		DualBank:         c.Device.DualBank == nil || *c.Device.DualBank,
		ApplicationStart: c.Application.Start,
		SRAMBase:         c.Application.SRAMBase,
		SRAMSize:         c.Application.SRAMSize,
	}
}

// CommandTimeout returns the command poll timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Timeouts.CommandMs) * time.Millisecond
}

// EraseCountTimeout returns the erase page count timeout.
func (c *Config) EraseCountTimeout() time.Duration {
	return time.Duration(c.Timeouts.EraseCountMs) * time.Millisecond
}

// RecordTimeout returns the per-read record timeout.
func (c *Config) RecordTimeout() time.Duration {
	return time.Duration(c.Timeouts.RecordMs) * time.Millisecond
}
