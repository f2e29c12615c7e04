//go:build linux

package i2c

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// fileBus is a Bus over a /dev/i2c-N character device.
type fileBus struct {
	mu   sync.Mutex
	f    *os.File
	addr int // currently selected slave address, -1 when none
}

// Open opens an i2c-dev device node, e.g. /dev/i2c-1.
func Open(device string) (BusCloser, error) {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	return &fileBus{f: f, addr: -1}, nil
}

func (b *fileBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addr = -1
	return b.f.Close()
}

// setAddr selects the slave address for subsequent read/write syscalls.
// Redundant ioctls for the already-selected address are skipped.
func (b *fileBus) setAddr(addr uint8) error {
	if int(addr) == b.addr {
		return nil
	}
	fd := int(b.f.Fd())
	err := unix.IoctlSetInt(fd, unix.I2C_SLAVE, int(addr))
	if errors.Is(err, unix.EBUSY) {
		// A kernel driver holds the address; bind anyway, as i2c-tools do.
		err = unix.IoctlSetInt(fd, unix.I2C_SLAVE_FORCE, int(addr))
	}
	if err != nil {
		return fmt.Errorf("selecting i2c address %#02x: %w", addr, err)
	}
	b.addr = int(addr)
	return nil
}

func (b *fileBus) Read(addr uint8, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.setAddr(addr); err != nil {
		return err
	}
	n, err := b.f.Read(p)
	if err != nil {
		return fmt.Errorf("reading %d bytes from %#02x: %w", len(p), addr, err)
	}
	if n != len(p) {
		return shortError("read", addr, n, len(p))
	}
	return nil
}

func (b *fileBus) Write(addr uint8, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.setAddr(addr); err != nil {
		return err
	}
	n, err := b.f.Write(p)
	if err != nil {
		return fmt.Errorf("writing %d bytes to %#02x: %w", len(p), addr, err)
	}
	if n != len(p) {
		return shortError("write", addr, n, len(p))
	}
	return nil
}
