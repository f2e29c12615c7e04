// Package osc implements the minimal subset of OSC 1.0 the installation
// speaks: single messages with int32 and float32 arguments. Payloads are
// kept byte-compatible with the rendering host's existing OSC input, so
// only what that path needs exists here.
package osc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrBadAddress = errors.New("osc address must start with '/'")
	ErrBadTag     = errors.New("unsupported osc type tag")
	ErrTruncated  = errors.New("truncated osc packet")
	ErrNotMessage = errors.New("not an osc message")
)

// Message is one OSC message. Args hold int32 or float32 values.
type Message struct {
	Address string
	Args    []any
}

// NewMessage returns an empty message for address.
func NewMessage(address string) *Message {
	return &Message{Address: address}
}

// AppendInt32 adds an int32 argument.
func (m *Message) AppendInt32(v int32) { m.Args = append(m.Args, v) }

// AppendFloat32 adds a float32 argument.
func (m *Message) AppendFloat32(v float32) { m.Args = append(m.Args, v) }

// Marshal encodes the message: padded address, ','-prefixed padded type
// tag string, then big-endian arguments.
func (m *Message) Marshal() ([]byte, error) {
	if !strings.HasPrefix(m.Address, "/") {
		return nil, fmt.Errorf("%w: %q", ErrBadAddress, m.Address)
	}

	tags := make([]byte, 0, len(m.Args)+1)
	tags = append(tags, ',')
	for _, arg := range m.Args {
		switch arg.(type) {
		case int32:
			tags = append(tags, 'i')
		case float32:
			tags = append(tags, 'f')
		default:
			return nil, fmt.Errorf("%w: argument type %T", ErrBadTag, arg)
		}
	}

	buf := appendPadded(nil, []byte(m.Address))
	buf = appendPadded(buf, tags)
	for _, arg := range m.Args {
		switch v := arg.(type) {
		case int32:
			buf = binary.BigEndian.AppendUint32(buf, uint32(v))
		case float32:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf, nil
}

// Parse decodes a single OSC message. Bundles are rejected; check
// IsBundle first when both can arrive on a socket.
func Parse(data []byte) (*Message, error) {
	if IsBundle(data) {
		return nil, fmt.Errorf("%w: bundle", ErrNotMessage)
	}
	if len(data) == 0 || data[0] != '/' {
		return nil, ErrNotMessage
	}

	address, rest, err := readPadded(data)
	if err != nil {
		return nil, err
	}
	tags, rest, err := readPadded(rest)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 || tags[0] != ',' {
		return nil, fmt.Errorf("%w: missing type tag string", ErrTruncated)
	}

	msg := NewMessage(address)
	for _, tag := range tags[1:] {
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: argument for tag %q", ErrTruncated, tag)
		}
		raw := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		switch tag {
		case 'i':
			msg.AppendInt32(int32(raw))
		case 'f':
			msg.AppendFloat32(math.Float32frombits(raw))
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadTag, tag)
		}
	}
	return msg, nil
}

// IsBundle reports whether data starts an OSC bundle.
func IsBundle(data []byte) bool {
	return len(data) >= 8 && string(data[:8]) == "#bundle\x00"
}

// IsPacket reports whether data looks like OSC at all (message or
// bundle), as opposed to e.g. JSON on the same port.
func IsPacket(data []byte) bool {
	return (len(data) > 0 && data[0] == '/') || IsBundle(data)
}

// String renders the message for debug output, e.g. "/tamaki/Sensor_0 1.2 0.4 -0.1".
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.Address)
	for _, arg := range m.Args {
		fmt.Fprintf(&sb, " %v", arg)
	}
	return sb.String()
}

// appendPadded appends s, its NUL terminator, and zero padding to the
// next 4-byte boundary.
func appendPadded(buf, s []byte) []byte {
	buf = append(buf, s...)
	buf = append(buf, 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// readPadded consumes a NUL-terminated padded string and returns it with
// the remaining bytes.
func readPadded(data []byte) (string, []byte, error) {
	nul := -1
	for i, b := range data {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return "", nil, fmt.Errorf("%w: unterminated string", ErrTruncated)
	}
	end := nul + 1
	for end%4 != 0 {
		end++
	}
	if end > len(data) {
		return "", nil, fmt.Errorf("%w: padding", ErrTruncated)
	}
	return string(data[:nul]), data[end:], nil
}
