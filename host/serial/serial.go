// Package serial opens the USB CDC link to bridge firmware.
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is an open serial link.
type Port interface {
	io.ReadWriteCloser

	// Flush drops data queued in either direction.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (ignored by USB CDC links)
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the bridge link defaults
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        921600,
		ReadTimeout: 100, // ms, lets the reader notice Close
	}
}

// Open opens device with tarm/serial.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("serial: nil config")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return &timeoutPort{ReadWriteCloser: port, flush: port.Flush}, nil
}

// timeoutPort hides how tarm/serial reports an expired read timeout. It
// returns (0, io.EOF), which readers would take for a closed link.
type timeoutPort struct {
	io.ReadWriteCloser
	flush func() error
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	n, err := p.ReadWriteCloser.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}

func (p *timeoutPort) Flush() error {
	if p.flush == nil {
		return nil
	}
	return p.flush()
}
