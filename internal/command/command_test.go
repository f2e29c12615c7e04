package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

type fakeController struct {
	freq        float64
	initialized int
	configured  int
	setErr      error
}

func (f *fakeController) Frequency() float64 { return f.freq }
func (f *fakeController) SetFrequency(hz float64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.freq = hz
	return nil
}
func (f *fakeController) SensorCounts() (int, int) { return f.initialized, f.configured }

func testServer(ctrl *fakeController, allowSystem bool) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(0, ctrl, allowSystem, logger)
}

func TestHandleSetFrequency(t *testing.T) {
	tests := []struct {
		name      string
		request   string
		wantReply string
		wantFreq  float64
	}{
		{"whole value", `{"command":"set_frequency","hz":20}`, "ACK: Frequency set to 20.0 Hz", 20},
		{"fractional", `{"command":"set_frequency","hz":12.5}`, "ACK: Frequency set to 12.5 Hz", 12.5},
		{"zero means unpaced", `{"command":"set_frequency","hz":0}`, "ACK: Frequency set to 0.0 Hz", 0},
		{"negative", `{"command":"set_frequency","hz":-5}`, "NACK: Invalid frequency value '-5'", 10},
		{"string value", `{"command":"set_frequency","hz":"10"}`, "NACK: Invalid frequency value '10'", 10},
		{"missing hz", `{"command":"set_frequency"}`, "NACK: Invalid frequency value '<nil>'", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{freq: 10}
			s := testServer(ctrl, false)

			reply, after := s.handle([]byte(tt.request), "test:1")
			if after != nil {
				t.Error("set_frequency produced a post-reply action")
			}
			if string(reply) != tt.wantReply {
				t.Errorf("reply = %q, want %q", reply, tt.wantReply)
			}
			if ctrl.freq != tt.wantFreq {
				t.Errorf("frequency = %v, want %v", ctrl.freq, tt.wantFreq)
			}
		})
	}
}

func TestHandleGetStatus(t *testing.T) {
	ctrl := &fakeController{freq: 12.5, initialized: 2, configured: 3}
	s := testServer(ctrl, false)

	reply, _ := s.handle([]byte(`{"command":"get_status"}`), "test:1")
	want := `{"status":"OK","send_frequency_hz":12.5,"initialized_sensors":2,"active_configured_sensors":3}`
	if string(reply) != want {
		t.Errorf("reply = %s, want %s", reply, want)
	}
}

func TestHandleInvalidJSON(t *testing.T) {
	s := testServer(&fakeController{}, false)
	reply, _ := s.handle([]byte("not json"), "test:1")
	if string(reply) != "NACK: Invalid JSON format" {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	s := testServer(&fakeController{}, false)

	reply, _ := s.handle([]byte(`{"command":"dance"}`), "test:1")
	if string(reply) != "NACK: Unknown command 'dance'" {
		t.Errorf("reply = %q", reply)
	}

	reply, _ = s.handle([]byte(`{"hz":5}`), "test:1")
	if string(reply) != "NACK: Unknown command '<nil>'" {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleSystemCommands(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := testServer(&fakeController{}, false)
		reply, after := s.handle([]byte(`{"command":"reboot"}`), "test:1")
		if string(reply) != "NACK: reboot disabled by configuration." {
			t.Errorf("reply = %q", reply)
		}
		if after != nil {
			t.Error("refused command produced a post-reply action")
		}
	})

	t.Run("reboot", func(t *testing.T) {
		s := testServer(&fakeController{}, true)
		var got []string
		s.execCommand = func(argv ...string) error {
			got = argv
			return nil
		}

		reply, after := s.handle([]byte(`{"command":"reboot"}`), "test:1")
		if string(reply) != "ACK: reboot initiated." {
			t.Errorf("reply = %q", reply)
		}
		if after == nil {
			t.Fatal("no post-reply action")
		}
		after()
		if strings.Join(got, " ") != "sudo reboot" {
			t.Errorf("exec argv = %v", got)
		}
	})

	t.Run("shutdown", func(t *testing.T) {
		s := testServer(&fakeController{}, true)
		var got []string
		s.execCommand = func(argv ...string) error {
			got = argv
			return nil
		}

		reply, after := s.handle([]byte(`{"command":"shutdown"}`), "test:1")
		if string(reply) != "ACK: shutdown initiated." {
			t.Errorf("reply = %q", reply)
		}
		if after == nil {
			t.Fatal("no post-reply action")
		}
		after()
		if strings.Join(got, " ") != "sudo shutdown -h now" {
			t.Errorf("exec argv = %v", got)
		}
	})
}

func TestOnCommandHook(t *testing.T) {
	ctrl := &fakeController{freq: 10}
	s := testServer(ctrl, false)

	type call struct {
		command, remote, detail string
		ok                      bool
	}
	var calls []call
	s.OnCommand = func(command, remote string, ok bool, detail string) {
		calls = append(calls, call{command, remote, detail, ok})
	}

	s.handle([]byte(`{"command":"set_frequency","hz":15}`), "10.0.0.5:4000")
	s.handle([]byte(`{"command":"bogus"}`), "10.0.0.5:4000")

	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].command != CmdSetFrequency || !calls[0].ok || calls[0].remote != "10.0.0.5:4000" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].command != "bogus" || calls[1].ok {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestFormatHz(t *testing.T) {
	tests := []struct {
		hz   float64
		want string
	}{
		{0, "0.0"},
		{10, "10.0"},
		{12.5, "12.5"},
		{0.25, "0.25"},
		{120, "120.0"},
	}
	for _, tt := range tests {
		if got := FormatHz(tt.hz); got != tt.want {
			t.Errorf("FormatHz(%v) = %q, want %q", tt.hz, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Round trips over a real socket.
// ----------------------------------------------------------------------------

func startServer(t *testing.T, ctrl Controller) (addr string, stop func()) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(0, ctrl, false, logger)

	ready := make(chan net.Addr, 1)
	s.Ready = func(a net.Addr) { ready <- a }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case a := <-ready:
		port := a.(*net.UDPAddr).Port
		return fmt.Sprintf("127.0.0.1:%d", port), func() {
			cancel()
			<-done
		}
	case <-time.After(3 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
		return "", nil
	}
}

func TestClientRoundTrip(t *testing.T) {
	ctrl := &fakeController{freq: 10, initialized: 1, configured: 2}
	addr, stop := startServer(t, ctrl)
	defer stop()

	c := NewClient(addr)

	reply, err := c.SetFrequency(30)
	if err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if reply != "ACK: Frequency set to 30.0 Hz" {
		t.Errorf("reply = %q", reply)
	}

	report, err := c.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if report.Status != "OK" {
		t.Errorf("status = %q, want OK", report.Status)
	}
	if report.SendFrequencyHz != 30 {
		t.Errorf("send_frequency_hz = %v, want 30", report.SendFrequencyHz)
	}
	if report.InitializedSensors != 1 || report.ActiveConfiguredSensors != 2 {
		t.Errorf("sensors = %d/%d, want 1/2", report.InitializedSensors, report.ActiveConfiguredSensors)
	}

	raw, err := c.Raw([]byte(`{"command":"nope"}`))
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if raw != "NACK: Unknown command 'nope'" {
		t.Errorf("reply = %q", raw)
	}
}

func TestClientRebootRefused(t *testing.T) {
	ctrl := &fakeController{}
	addr, stop := startServer(t, ctrl)
	defer stop()

	c := NewClient(addr)
	reply, err := c.Reboot()
	if err != nil {
		t.Fatalf("Reboot: %v", err)
	}
	if reply != "NACK: reboot disabled by configuration." {
		t.Errorf("reply = %q", reply)
	}
}
