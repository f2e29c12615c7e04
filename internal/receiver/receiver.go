// Package receiver implements the debug UDP receiver behind "tamaki
// listen". It prints every datagram with its source address, decoding
// OSC messages and passing JSON through, so a laptop can stand in for
// the rendering host while sensors are being placed.
package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/artificial-imagination/tamaki/internal/osc"
	"github.com/artificial-imagination/tamaki/internal/style"
)

const readTimeout = 500 * time.Millisecond

// Receiver listens for telemetry datagrams and prints them.
type Receiver struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// Out receives the printed packets. Defaults to os.Stdout.
	Out io.Writer

	// Raw disables decoding; payloads print as quoted bytes.
	Raw bool

	// Ready, when set, is called once with the bound address.
	Ready func(addr net.Addr)
}

// Run listens until ctx is cancelled. Every datagram prints as one
// line: sequence number, arrival time, source address, payload.
func (r *Receiver) Run(ctx context.Context) error {
	out := r.Out
	if out == nil {
		out = os.Stdout
	}

	pc, err := net.ListenPacket("udp", r.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", r.Addr, err)
	}
	defer pc.Close()

	if r.Ready != nil {
		r.Ready(pc.LocalAddr())
	}

	buf := make([]byte, 64*1024)
	var seq uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := pc.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading datagram: %w", err)
		}

		seq++
		payload := Format(buf[:n])
		if r.Raw {
			payload = fmt.Sprintf("%q", buf[:n])
		}
		fmt.Fprintf(out, "%s %s %s  %s\n",
			style.Dim.Render(fmt.Sprintf("#%04d", seq)),
			style.Dim.Render(time.Now().Format("15:04:05.000")),
			from.String(),
			payload)
	}
}

// Format renders one datagram for display. OSC messages decode to
// their address and arguments, OSC bundles report their size, JSON
// passes through trimmed, and anything else prints quoted.
func Format(data []byte) string {
	switch {
	case osc.IsBundle(data):
		return fmt.Sprintf("osc bundle (%d bytes)", len(data))
	case osc.IsPacket(data):
		msg, err := osc.Parse(data)
		if err != nil {
			return fmt.Sprintf("osc? %q", data)
		}
		return "osc " + msg.String()
	case json.Valid(data):
		return strings.TrimSpace(string(data))
	default:
		return fmt.Sprintf("%q", data)
	}
}
