package protocol

// Command is a single command byte sent by the host.
type Command byte

// Host to device command bytes
const (
	CmdGetID            Command = 0xA8
	CmdEraseFlash       Command = 0x27
	CmdWriteFlash       Command = 0x9C
	CmdStartApplication Command = 0x5F
)

// CommandUnknown marks any byte that is not a defined command.
const CommandUnknown Command = 0x00

// Device to host response bytes
const (
	RespAck       = 0x3B
	RespNack      = 0x71
	RespBadOption = 0xC6
	RespReady     = 0xAB
)

// ParseCommand maps a received byte to a defined command, or CommandUnknown.
func ParseCommand(b byte) Command {
	switch c := Command(b); c {
	case CmdGetID, CmdEraseFlash, CmdWriteFlash, CmdStartApplication:
		return c
	default:
		return CommandUnknown
	}
}

// String returns human-readable name for the command
func (c Command) String() string {
	switch c {
	case CmdGetID:
		return "GetId"
	case CmdEraseFlash:
		return "EraseFlash"
	case CmdWriteFlash:
		return "WriteFlash"
	case CmdStartApplication:
		return "StartApplication"
	default:
		return "unknown"
	}
}

// ResponseName returns human-readable name for a response byte
func ResponseName(b byte) string {
	switch b {
	case RespAck:
		return "ACK"
	case RespNack:
		return "NACK"
	case RespBadOption:
		return "bad option (dual bank required)"
	case RespReady:
		return "ready"
	default:
		return "unknown response"
	}
}
