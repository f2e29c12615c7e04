// Package tlv493d drives the Infineon TLV493D-A1B6 3-axis magnetometer.
//
// The device has no register pointer: reads always start at register 0
// and return up to 10 bytes; configuration is a single 4-byte write.
// Initialization copies the factory calibration bits out of the read
// frame into the write frame (losing them bricks the part until power
// cycle), enables temperature, and selects master-controlled mode so
// every read triggers a fresh conversion.
package tlv493d

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/artificial-imagination/tamaki/internal/i2c"
)

// DefaultAddress is the power-up address with SDA high during reset.
const DefaultAddress = 0x5E

// Scale is the field per LSB of the 12-bit channels, in millitesla.
const Scale = 0.098

const readFrameLen = 10

// ErrNullFrame means the sensor answered but every data register read
// back zero, including the frame counter and temperature channels. A
// live die cannot produce that; it is the signature of a wedged mux
// channel and the cue to run recovery.
var ErrNullFrame = errors.New("sensor returned null frame")

// Reading is one field sample in millitesla.
type Reading struct {
	X, Y, Z float64
}

// IsZero reports an exactly-zero field vector.
func (r Reading) IsZero() bool {
	return r.X == 0 && r.Y == 0 && r.Z == 0
}

// Sensor is an initialized TLV493D.
type Sensor struct {
	dev *i2c.Dev
}

// New initializes the sensor at addr on bus and returns a handle.
// The bus may be a raw i2c bus or a tca9548a channel.
func New(bus i2c.Bus, addr uint8) (*Sensor, error) {
	s := &Sensor{dev: i2c.NewDev(bus, addr)}

	var frame [readFrameLen]byte
	if err := s.dev.Read(frame[:]); err != nil {
		return nil, fmt.Errorf("reading factory settings: %w", err)
	}

	cfg := configFrame(frame)
	if err := s.dev.Write(cfg[:]); err != nil {
		return nil, fmt.Errorf("writing configuration: %w", err)
	}
	return s, nil
}

// Addr returns the device address.
func (s *Sensor) Addr() uint8 { return s.dev.Addr() }

// Magnetic reads one field sample.
func (s *Sensor) Magnetic() (Reading, error) {
	frame, err := s.readFrame()
	if err != nil {
		return Reading{}, err
	}
	return decodeMagnetic(frame), nil
}

// Temperature reads the die temperature in degrees Celsius.
func (s *Sensor) Temperature() (float64, error) {
	frame, err := s.readFrame()
	if err != nil {
		return 0, err
	}
	return decodeTemperature(frame), nil
}

func (s *Sensor) readFrame() ([readFrameLen]byte, error) {
	var frame [readFrameLen]byte
	if err := s.dev.Read(frame[:]); err != nil {
		return frame, fmt.Errorf("reading sensor %#02x: %w", s.dev.Addr(), err)
	}
	if nullFrame(frame) {
		return frame, fmt.Errorf("sensor %#02x: %w", s.dev.Addr(), ErrNullFrame)
	}
	return frame, nil
}

// configFrame builds the 4-byte write frame from the 10-byte read frame.
//
// Write map: byte 0 is register 0x0 (always zero); byte 1 carries the
// parity bit (0x80), device address bits (0x60), factory bits (0x18),
// interrupt (0x04), FAST (0x02) and LOWPOWER (0x01); byte 2 is a full
// factory byte; byte 3 carries temperature-disable (0x80), low-power
// period (0x40), power-down (0x20) and factory bits (0x1F).
func configFrame(read [readFrameLen]byte) [4]byte {
	var w [4]byte

	// Factory calibration: regs 7-9 copy into the write slots at the
	// same bit positions.
	w[1] |= read[7] & 0x18
	w[2] = read[8]
	w[3] |= read[9] & 0x1F

	// Master-controlled mode: FAST together with LOWPOWER.
	w[1] |= 0x02 | 0x01

	w[1] |= parityBit(w) << 7
	return w
}

// parityBit returns the bit making the total count of ones in the
// write frame odd, as the configuration parity check requires.
func parityBit(w [4]byte) byte {
	ones := 0
	for _, b := range w {
		ones += bits.OnesCount8(b)
	}
	if ones%2 == 0 {
		return 1
	}
	return 0
}

// nullFrame reports an all-zero measurement frame. Frame counter and
// temperature bits are never all zero on a live sensor.
func nullFrame(d [readFrameLen]byte) bool {
	return d[0] == 0 && d[1] == 0 && d[2] == 0 && d[3] == 0 &&
		d[4] == 0 && d[5] == 0 && d[6] == 0
}

// decodeMagnetic assembles the three 12-bit two's-complement channels.
// High bytes live in regs 0-2; the low nibbles are packed into regs 4
// (X high nibble, Y low nibble) and 5 (Z low nibble).
func decodeMagnetic(d [readFrameLen]byte) Reading {
	x := signExtend12(d[0], d[4]>>4)
	y := signExtend12(d[1], d[4]&0x0F)
	z := signExtend12(d[2], d[5]&0x0F)
	return Reading{
		X: float64(x) * Scale,
		Y: float64(y) * Scale,
		Z: float64(z) * Scale,
	}
}

// decodeTemperature assembles the 12-bit temperature channel: high
// nibble in reg 3, low byte in reg 6. 340 LSB is 0 °C, 1.1 °C per LSB.
func decodeTemperature(d [readFrameLen]byte) float64 {
	raw := int(d[3]>>4)<<8 | int(d[6])
	return float64(raw-340) * 1.1
}

// signExtend12 combines a high byte and a low nibble into a signed
// 12-bit value.
func signExtend12(hi byte, nib byte) int16 {
	return int16(uint16(hi)<<8|uint16(nib)<<4) >> 4
}
