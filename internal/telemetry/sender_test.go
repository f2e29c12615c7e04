package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/metrics"
	"github.com/artificial-imagination/tamaki/internal/osc"
	"github.com/artificial-imagination/tamaki/internal/tlv493d"
)

type fakeReader struct {
	reading tlv493d.Reading
	err     error
}

func (f *fakeReader) Magnetic() (tlv493d.Reading, error) {
	return f.reading, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// listenerAndConfig binds a local UDP receiver and points a config at it.
func listenerAndConfig(t *testing.T) (net.PacketConn, *config.Config) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	cfg := config.Default()
	cfg.Network.Host = "127.0.0.1"
	cfg.Network.Port = pc.LocalAddr().(*net.UDPAddr).Port
	cfg.Sender.FrequencyHz = 200
	return pc, cfg
}

func readPacket(t *testing.T, pc net.PacketConn) []byte {
	t.Helper()
	buf := make([]byte, 2048)
	if err := pc.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("no packet received: %v", err)
	}
	return buf[:n]
}

func TestSenderSendsJSON(t *testing.T) {
	pc, cfg := listenerAndConfig(t)
	src := NewSource("s0", "front door", DirectChannel,
		&fakeReader{reading: tlv493d.Reading{X: 0.098, Y: -0.196, Z: 0.294}}, nil)

	s, err := New(cfg, []*Source{src}, metrics.New(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	packet := readPacket(t, pc)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	var payload struct {
		Sensor map[string][]AxisValue `json:"Sensor"`
	}
	if err := json.Unmarshal(packet, &payload); err != nil {
		t.Fatalf("unmarshal %s: %v", packet, err)
	}
	axes := payload.Sensor["s0"]
	if len(axes) != 3 {
		t.Fatalf("axes = %d, want 3", len(axes))
	}
	if axes[0] != (AxisValue{Axis: "x", Val: 0.098}) {
		t.Errorf("x = %+v", axes[0])
	}
	if axes[1] != (AxisValue{Axis: "y", Val: -0.196}) {
		t.Errorf("y = %+v", axes[1])
	}
	if axes[2] != (AxisValue{Axis: "z", Val: 0.294}) {
		t.Errorf("z = %+v", axes[2])
	}

	if s.PacketsSent() == 0 {
		t.Error("PacketsSent = 0 after delivery")
	}
}

func TestSenderReadErrorSendsZeros(t *testing.T) {
	pc, cfg := listenerAndConfig(t)
	src := NewSource("s0", "s0", DirectChannel,
		&fakeReader{err: errors.New("i2c read failed")}, nil)

	s, err := New(cfg, []*Source{src}, metrics.New(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Two packets proves a failing sensor does not stop the loop.
	first := readPacket(t, pc)
	_ = readPacket(t, pc)
	cancel()
	<-done

	var payload struct {
		Sensor map[string][]AxisValue `json:"Sensor"`
	}
	if err := json.Unmarshal(first, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, av := range payload.Sensor["s0"] {
		if av.Val != 0 {
			t.Errorf("axis %s = %v, want 0", av.Axis, av.Val)
		}
	}
}

func TestSenderNullFrameKeepsSending(t *testing.T) {
	pc, cfg := listenerAndConfig(t)
	wrapped := fmt.Errorf("sensor 0x5e: %w", tlv493d.ErrNullFrame)
	src := NewSource("s0", "s0", DirectChannel, &fakeReader{err: wrapped}, nil)

	s, err := New(cfg, []*Source{src}, metrics.New(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	_ = readPacket(t, pc)
	_ = readPacket(t, pc)
	cancel()
	<-done
}

func TestSenderOSCFormat(t *testing.T) {
	pc, cfg := listenerAndConfig(t)
	cfg.Sender.Format = config.FormatOSC
	src := NewSource("s0", "s0", DirectChannel,
		&fakeReader{reading: tlv493d.Reading{X: 1.5}}, nil)

	s, err := New(cfg, []*Source{src}, metrics.New(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	packet := readPacket(t, pc)
	cancel()
	<-done

	if !osc.IsPacket(packet) {
		t.Fatalf("not an OSC packet: %q", packet)
	}
	msg, err := osc.Parse(packet)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Address != "/tamaki/s0" {
		t.Errorf("address = %q, want /tamaki/s0", msg.Address)
	}
	if got := msg.Args[0].(float32); got != 1.5 {
		t.Errorf("x = %v, want 1.5", got)
	}
}

func TestSetFrequency(t *testing.T) {
	_, cfg := listenerAndConfig(t)
	s, err := New(cfg, nil, metrics.New(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.SetFrequency(25); err != nil {
		t.Fatalf("SetFrequency(25): %v", err)
	}
	if got := s.Frequency(); got != 25 {
		t.Errorf("Frequency = %v, want 25", got)
	}

	if err := s.SetFrequency(0); err != nil {
		t.Fatalf("SetFrequency(0): %v", err)
	}

	if err := s.SetFrequency(-1); err == nil {
		t.Error("SetFrequency(-1) accepted")
	}
}

func TestSensorCounts(t *testing.T) {
	_, cfg := listenerAndConfig(t)
	cfg.Sensors = []config.Sensor{
		{ID: "a", Attach: config.AttachMux, Channel: 0},
		{ID: "b", Attach: config.AttachMux, Channel: 1},
		{ID: "c", Attach: config.AttachMux, Channel: 2},
	}
	sources := []*Source{
		NewSource("a", "a", 0, &fakeReader{}, nil),
		NewSource("b", "b", 1, &fakeReader{}, nil),
	}

	s, err := New(cfg, sources, metrics.New(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	initialized, configured := s.SensorCounts()
	if initialized != 2 || configured != 3 {
		t.Errorf("counts = %d/%d, want 2/3", initialized, configured)
	}
	ids := s.SourceIDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("SourceIDs = %v", ids)
	}
}
