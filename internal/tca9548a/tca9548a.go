// Package tca9548a drives the TCA9548A 8-channel I2C multiplexer.
//
// The device has a single control register: a bitmask of enabled
// downstream channels. Writing 1<<ch routes the bus to channel ch,
// writing 0 disconnects all channels. Each channel can be used as an
// i2c.Bus in its own right; the mux serializes channel selection with
// the transfer that follows it.
package tca9548a

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artificial-imagination/tamaki/internal/i2c"
)

// DefaultAddress is the TCA9548A address with A0-A2 grounded.
const DefaultAddress = 0x70

// Channels is the number of downstream channels.
const Channels = 8

// settle is how long the bus is left alone after switching channels
// during recovery. Sensors that wedged a channel need the idle time.
const settle = 100 * time.Millisecond

var ErrBadChannel = errors.New("mux channel out of range 0-7")

// Mux is a TCA9548A on an upstream bus.
type Mux struct {
	bus  i2c.Bus
	addr uint8

	mu       sync.Mutex
	selected int // currently routed channel, -1 when unknown or none
}

// New returns a Mux at addr on bus. No I/O happens until the first
// selection.
func New(bus i2c.Bus, addr uint8) *Mux {
	return &Mux{bus: bus, addr: addr, selected: -1}
}

// Addr returns the mux's own address.
func (m *Mux) Addr() uint8 { return m.addr }

// Select routes the bus to channel ch.
func (m *Mux) Select(ch int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked(ch)
}

func (m *Mux) selectLocked(ch int) error {
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("%w: %d", ErrBadChannel, ch)
	}
	if m.selected == ch {
		return nil
	}
	if err := m.bus.Write(m.addr, []byte{1 << uint(ch)}); err != nil {
		m.selected = -1
		return fmt.Errorf("selecting mux channel %d: %w", ch, err)
	}
	m.selected = ch
	return nil
}

// DisableAll disconnects every downstream channel.
func (m *Mux) DisableAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableAllLocked()
}

func (m *Mux) disableAllLocked() error {
	if err := m.bus.Write(m.addr, []byte{0x00}); err != nil {
		m.selected = -1
		return fmt.Errorf("disabling mux channels: %w", err)
	}
	m.selected = -1
	return nil
}

// Recover power-cycles a channel's routing: disconnect everything, let
// the bus settle, then re-enable just the one channel. This clears the
// stuck-transaction state that makes a sensor read back all zeros.
func (m *Mux) Recover(ch int) error {
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("%w: %d", ErrBadChannel, ch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.disableAllLocked(); err != nil {
		return err
	}
	time.Sleep(settle)
	if err := m.selectLocked(ch); err != nil {
		return err
	}
	time.Sleep(settle)
	return nil
}

// Channel returns ch as a standalone bus. Transfers through it select
// the channel first, atomically with respect to other mux users.
func (m *Mux) Channel(ch int) (*Channel, error) {
	if ch < 0 || ch >= Channels {
		return nil, fmt.Errorf("%w: %d", ErrBadChannel, ch)
	}
	return &Channel{mux: m, ch: ch}, nil
}

// Scan probes every valid 7-bit address on channel ch and returns the
// ones that answered. The mux's own address is skipped; it answers on
// every channel.
func (m *Mux) Scan(ch int) ([]uint8, error) {
	c, err := m.Channel(ch)
	if err != nil {
		return nil, err
	}
	var found []uint8
	for addr := uint8(0x03); addr <= 0x77; addr++ {
		if addr == m.addr {
			continue
		}
		if i2c.Probe(c, addr) {
			found = append(found, addr)
		}
	}
	return found, nil
}

// Channel is one downstream leg of the mux, usable as an i2c.Bus.
type Channel struct {
	mux *Mux
	ch  int
}

// Num returns the channel number.
func (c *Channel) Num() int { return c.ch }

func (c *Channel) Read(addr uint8, p []byte) error {
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	if err := c.mux.selectLocked(c.ch); err != nil {
		return err
	}
	return c.mux.bus.Read(addr, p)
}

func (c *Channel) Write(addr uint8, p []byte) error {
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	if err := c.mux.selectLocked(c.ch); err != nil {
		return err
	}
	return c.mux.bus.Write(addr, p)
}
