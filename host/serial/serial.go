// Package serial opens the firmware's USB CDC or UART link.
package serial

import (
	"errors"
	"io"
	"time"
)

// Port is an open link to the firmware.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input.
	Flush() error
}

// DefaultBaud is ignored by USB CDC and used by UART bridges.
const DefaultBaud = 250000

// DefaultReadTimeout lets the reader notice a closed transport.
const DefaultReadTimeout = 100 * time.Millisecond

var ErrNoDevice = errors.New("no serial device given")

// Config selects and configures the device.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings the firmware expects on device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
	}
}

// Validate fills in defaults and rejects an empty device.
func (c *Config) Validate() error {
	if c.Device == "" {
		return ErrNoDevice
	}
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return nil
}
