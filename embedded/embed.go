package embedded

import (
	_ "embed"
)

//go:embed stm32g474.yaml
var defaultProfile []byte

// DefaultProfile returns the embedded STM32G474 device profile.
func DefaultProfile() []byte {
	return defaultProfile
}
