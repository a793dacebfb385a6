package detect

import (
	"fmt"

	"github.com/jacobin-thx/G474-bootloader/internal/flasher"
	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
	"github.com/jacobin-thx/G474-bootloader/internal/transport"
)

// Result represents a port answering GetId.
type Result struct {
	Port       string
	Identity   uint16
	DeviceName string
}

// Prober identifies the bootloader behind one port.
type Prober func(portName string, baudRate int) (*Result, error)

// Scanner probes serial ports for a bootloader.
type Scanner struct {
	list  func() ([]string, error)
	probe Prober
}

// NewScanner returns a scanner over the system serial ports.
func NewScanner() *Scanner {
	return &Scanner{list: transport.ListPorts, probe: tryPort}
}

// DetectDevice returns the first port with a bootloader.
func (s *Scanner) DetectDevice(baudRate int) (*Result, error) {
	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := s.probe(portName, baudRate)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no bootloader found (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no bootloader found")
}

// ListDevices scans all ports and returns every bootloader found.
func (s *Scanner) ListDevices(baudRate int) ([]Result, error) {
	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := s.probe(portName, baudRate)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

// DetectDevice tries the system serial ports.
func DetectDevice(baudRate int) (*Result, error) {
	return NewScanner().DetectDevice(baudRate)
}

// DetectOnPort identifies the bootloader on a specific port.
func DetectOnPort(portName string, baudRate int) (*Result, error) {
	return tryPort(portName, baudRate)
}

// ListDevices scans the system serial ports.
func ListDevices(baudRate int) ([]Result, error) {
	return NewScanner().ListDevices(baudRate)
}

func tryPort(portName string, baudRate int) (*Result, error) {
	port, err := transport.Open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	return Identify(portName, port)
}

// Identify sends GetId over link and names the answering device.
func Identify(portName string, link transport.Transport) (*Result, error) {
	id, err := flasher.New(link).Identify()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", portName, err)
	}

	return &Result{
		Port:       portName,
		Identity:   id,
		DeviceName: protocol.DeviceName(id),
	}, nil
}
