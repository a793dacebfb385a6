package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jacobin-thx/G474-bootloader/internal/bootloader"
	"github.com/jacobin-thx/G474-bootloader/internal/device"
	"github.com/jacobin-thx/G474-bootloader/internal/flash"
	"github.com/jacobin-thx/G474-bootloader/internal/transport"
)

func TestIdentify(t *testing.T) {
	mem, _ := flash.NewMemory(flash.STM32G474)
	sim := device.NewSimulator(device.Profile(flash.STM32G474), mem)
	host, dev := transport.Pipe()
	defer host.Close()

	bl, err := bootloader.New(dev, mem, sim, flash.STM32G474, bootloader.WithTimeouts(20*time.Millisecond, 0, 0))
	if err != nil {
		t.Fatalf("bootloader.New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bl.Run(ctx)

	result, err := Identify("pipe", host)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if result.Identity != 0x469 || result.DeviceName != "STM32G471/G473/G474/G483/G484" {
		t.Errorf("Identify() = %+v, want G474 identity", result)
	}
}

func TestScanner(t *testing.T) {
	probe := func(portName string, _ int) (*Result, error) {
		if portName == "/dev/ttyACM1" || portName == "/dev/ttyACM3" {
			return &Result{Port: portName, Identity: 0x469}, nil
		}
		return nil, errors.New("no answer")
	}
	s := &Scanner{
		list: func() ([]string, error) {
			return []string{"/dev/ttyS0", "/dev/ttyACM1", "/dev/ttyACM2", "/dev/ttyACM3"}, nil
		},
		probe: probe,
	}

	first, err := s.DetectDevice(115200)
	if err != nil {
		t.Fatalf("DetectDevice() error = %v", err)
	}
	if first.Port != "/dev/ttyACM1" {
		t.Errorf("DetectDevice() port = %s, want /dev/ttyACM1", first.Port)
	}

	all, err := s.ListDevices(115200)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(all) != 2 || all[1].Port != "/dev/ttyACM3" {
		t.Errorf("ListDevices() = %+v, want ttyACM1 and ttyACM3", all)
	}
}

func TestScanner_NoPorts(t *testing.T) {
	s := &Scanner{
		list:  func() ([]string, error) { return nil, nil },
		probe: func(string, int) (*Result, error) { return nil, errors.New("unused") },
	}
	if _, err := s.DetectDevice(115200); err == nil {
		t.Error("DetectDevice() with no ports expected error, got nil")
	}
}
