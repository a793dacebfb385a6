package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const idleReadTimeout = 100 * time.Millisecond

// Port wraps a serial port as a bootloader Transport.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate (8N1).
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	// Set read timeout
	if err := port.SetReadTimeout(idleReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Receive fills buf or returns ErrTimeout.
func (p *Port) Receive(buf []byte, timeout time.Duration) error {
	defer p.port.SetReadTimeout(idleReadTimeout)
	return receiveFull(p.port, buf, timeout)
}

// Transmit writes all of buf and waits until it has left the port.
func (p *Port) Transmit(buf []byte) error {
	if err := transmitAll(p.port, buf); err != nil {
		return err
	}
	return p.port.Drain()
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
