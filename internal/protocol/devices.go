package protocol

import "fmt"

// Identity values reported by GetId (DBGMCU IDCODE & 0xFFF)
const (
	IDG431 = 0x468
	IDG474 = 0x469
	IDG491 = 0x479
)

// DeviceName returns a human-readable name for an identity value.
func DeviceName(id uint16) string {
	switch id {
	case IDG431:
		return "STM32G431/G441"
	case IDG474:
		return "STM32G471/G473/G474/G483/G484"
	case IDG491:
		return "STM32G491/G4A1"
	default:
		return fmt.Sprintf("unknown (0x%03X)", id)
	}
}
