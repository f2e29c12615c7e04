// Package i2c provides access to Linux i2c-dev buses.
//
// A Bus moves raw bytes to and from 7-bit slave addresses. Transfers on
// one bus are serialized internally, so a Bus is safe for concurrent use.
// Higher-level drivers (tca9548a, tlv493d) build on this interface, which
// also lets tests substitute an in-memory implementation.
package i2c

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnsupported is returned on platforms without i2c-dev.
	ErrUnsupported = errors.New("i2c not supported on this platform")
)

// Bus is a raw I2C bus.
type Bus interface {
	// Read fills p with bytes read from the device at addr.
	Read(addr uint8, p []byte) error
	// Write sends p to the device at addr.
	Write(addr uint8, p []byte) error
}

// BusCloser is a Bus backed by a file descriptor that must be released.
type BusCloser interface {
	Bus
	io.Closer
}

// Dev binds a Bus to one device address.
type Dev struct {
	bus  Bus
	addr uint8
}

// NewDev returns a device handle for addr on bus.
func NewDev(bus Bus, addr uint8) *Dev {
	return &Dev{bus: bus, addr: addr}
}

// Addr returns the device address.
func (d *Dev) Addr() uint8 { return d.addr }

// Read fills p from the device.
func (d *Dev) Read(p []byte) error { return d.bus.Read(d.addr, p) }

// Write sends p to the device.
func (d *Dev) Write(p []byte) error { return d.bus.Write(d.addr, p) }

// Probe reports whether a device answers at addr. It issues a one-byte
// read; absent devices NACK the address and the read fails.
func Probe(bus Bus, addr uint8) bool {
	var b [1]byte
	return bus.Read(addr, b[:]) == nil
}

// shortError describes an incomplete transfer.
func shortError(op string, addr uint8, n, want int) error {
	return fmt.Errorf("short %s at %#02x: %d of %d bytes", op, addr, n, want)
}
