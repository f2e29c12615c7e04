package tmux

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestValidateSessionName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"tamaki", false},
		{"tamaki-debug", false},
		{"sensor_rig_2", false},
		{"ABC123", false},
		{"", true},
		{"has space", true},
		{"has.dot", true},
		{"has:colon", true},
		{"has;semi", true},
		{"$(injection)", true},
		{"name\nnewline", true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.name), func(t *testing.T) {
			err := validateSessionName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSessionName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSessionName) {
				t.Errorf("error = %v, want ErrInvalidSessionName", err)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	tm := New()
	base := errors.New("exit status 1")

	tests := []struct {
		name   string
		stderr string
		want   error
	}{
		{"no server", "no server running on /tmp/tmux-1000/default", ErrNoServer},
		{"connect failure", "error connecting to /tmp/tmux-1000/default (No such file or directory)", ErrNoServer},
		{"no target", "no current target", ErrNoServer},
		{"server exited", "server exited unexpectedly", ErrNoServer},
		{"duplicate", "duplicate session: tamaki", ErrSessionExists},
		{"not found", "session not found: tamaki", ErrSessionNotFound},
		{"cant find", "can't find session: tamaki", ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tm.wrapError(base, tt.stderr, []string{"has-session"})
			if !errors.Is(got, tt.want) {
				t.Errorf("wrapError(%q) = %v, want %v", tt.stderr, got, tt.want)
			}
		})
	}

	t.Run("unclassified stderr", func(t *testing.T) {
		got := tm.wrapError(base, "bad option: -z", []string{"new-session"})
		if errors.Is(got, ErrNoServer) || errors.Is(got, ErrSessionExists) || errors.Is(got, ErrSessionNotFound) {
			t.Errorf("unexpected sentinel classification: %v", got)
		}
		if !strings.Contains(got.Error(), "new-session") {
			t.Errorf("error %q missing command name", got.Error())
		}
	})

	t.Run("empty stderr wraps original", func(t *testing.T) {
		got := tm.wrapError(base, "", []string{"kill-session"})
		if !errors.Is(got, base) {
			t.Errorf("error %v does not wrap %v", got, base)
		}
	})
}

func TestZombieStatusString(t *testing.T) {
	tests := []struct {
		status ZombieStatus
		want   string
	}{
		{SessionHealthy, "healthy"},
		{SessionDead, "session-dead"},
		{ProcessDead, "process-dead"},
		{ProcessHung, "process-hung"},
		{ZombieStatus(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("ZombieStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestZombieStatusIsZombie(t *testing.T) {
	tests := []struct {
		status ZombieStatus
		want   bool
	}{
		{SessionHealthy, false},
		{SessionDead, false},
		{ProcessDead, true},
		{ProcessHung, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsZombie(); got != tt.want {
			t.Errorf("%v.IsZombie() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestAttachCommand(t *testing.T) {
	tm := NewWithSocket("tamaki-attach-test")
	if !tm.IsAvailable() {
		t.Skip("tmux not available")
	}

	path, argv, err := tm.AttachCommand("tamaki")
	if err != nil {
		t.Fatalf("AttachCommand: %v", err)
	}
	if path == "" {
		t.Error("empty binary path")
	}
	want := []string{"tmux", "-u", "-L", "tamaki-attach-test", "attach-session", "-t", "=tamaki"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

// ----------------------------------------------------------------------------
// Integration tests against a private tmux server. Each test gets its own
// socket so nothing touches the operator's sessions.
// ----------------------------------------------------------------------------

func newTestTmux(t *testing.T, label string) *Tmux {
	t.Helper()
	tm := NewWithSocket(fmt.Sprintf("tamaki-test-%s-%d", label, os.Getpid()))
	if !tm.IsAvailable() {
		t.Skip("tmux not available")
	}
	t.Cleanup(func() { _ = tm.KillServer() })
	return tm
}

func TestSessionLifecycle(t *testing.T) {
	tm := newTestTmux(t, "lifecycle")

	if err := tm.NewSession("lifecycle", ""); err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ok, err := tm.HasSession("lifecycle")
	if err != nil {
		t.Fatalf("HasSession: %v", err)
	}
	if !ok {
		t.Error("HasSession = false after create")
	}

	ok, err = tm.HasSession("nonexistent")
	if err != nil {
		t.Fatalf("HasSession(nonexistent): %v", err)
	}
	if ok {
		t.Error("HasSession(nonexistent) = true")
	}

	sessions, err := tm.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	found := false
	for _, s := range sessions {
		if s == "lifecycle" {
			found = true
		}
	}
	if !found {
		t.Errorf("ListSessions = %v, missing lifecycle", sessions)
	}

	if err := tm.KillSession("lifecycle"); err != nil {
		t.Fatalf("KillSession: %v", err)
	}
	ok, _ = tm.HasSession("lifecycle")
	if ok {
		t.Error("session still present after kill")
	}

	// Killing again is not an error.
	if err := tm.KillSession("lifecycle"); err != nil {
		t.Errorf("second KillSession: %v", err)
	}
}

func TestNewSessionWithCommand(t *testing.T) {
	tm := newTestTmux(t, "withcmd")

	if err := tm.NewSessionWithCommand("runner", "", "sleep 30", nil); err != nil {
		t.Fatalf("NewSessionWithCommand: %v", err)
	}
	defer tm.KillSessionWithProcesses("runner")

	if !tm.IsProcessRunning("runner", []string{"sleep"}) {
		t.Error("IsProcessRunning = false for live sleep")
	}
	if tm.IsProcessRunning("runner", []string{"python3"}) {
		t.Error("IsProcessRunning = true for absent python3")
	}

	pid, err := tm.GetPanePID("runner")
	if err != nil {
		t.Fatalf("GetPanePID: %v", err)
	}
	if pid == "" {
		t.Error("empty pane PID")
	}

	cmd, err := tm.GetPaneCommand("runner")
	if err != nil {
		t.Fatalf("GetPaneCommand: %v", err)
	}
	if cmd != "sleep" {
		t.Errorf("pane command = %q, want sleep", cmd)
	}
}

func TestNewSessionWithCommandFailsFast(t *testing.T) {
	tm := newTestTmux(t, "failfast")

	err := tm.NewSessionWithCommand("doomed", "", "sh -c 'exit 3'", nil)
	if err == nil {
		t.Fatal("expected error for command exiting non-zero")
	}
	if !strings.Contains(err.Error(), "status 3") {
		t.Errorf("error = %v, want exit status 3 mentioned", err)
	}

	// Failed session must not linger.
	ok, _ := tm.HasSession("doomed")
	if ok {
		t.Error("dead session left behind")
	}
}

func TestNewSessionWithCommandCleanExit(t *testing.T) {
	tm := newTestTmux(t, "cleanexit")

	// A command that exits 0 immediately is not a launch failure.
	if err := tm.NewSessionWithCommand("quick", "", "true", nil); err != nil {
		t.Fatalf("NewSessionWithCommand: %v", err)
	}
	ok, _ := tm.HasSession("quick")
	if ok {
		t.Error("cleanly exited session left behind")
	}
}

func TestNewSessionWithCommandEnv(t *testing.T) {
	tm := newTestTmux(t, "env")

	env := map[string]string{"TAMAKI_MARKER": "abc123"}
	if err := tm.NewSessionWithCommand("envtest", "", "sleep 30", env); err != nil {
		t.Fatalf("NewSessionWithCommand: %v", err)
	}
	defer tm.KillSessionWithProcesses("envtest")

	got, err := tm.GetEnvironment("envtest", "TAMAKI_MARKER")
	if err != nil {
		t.Fatalf("GetEnvironment: %v", err)
	}
	if got != "abc123" {
		t.Errorf("TAMAKI_MARKER = %q, want abc123", got)
	}
}

func TestNewSessionWithCommandBadWorkDir(t *testing.T) {
	tm := NewWithSocket("tamaki-test-badwd")
	if !tm.IsAvailable() {
		t.Skip("tmux not available")
	}
	err := tm.NewSessionWithCommand("badwd", "/nonexistent/path", "sleep 1", nil)
	if err == nil {
		_ = tm.KillServer()
		t.Fatal("expected error for missing work directory")
	}
}

func TestEnsureFreshWithCommand(t *testing.T) {
	tm := newTestTmux(t, "fresh")

	// A bare shell session with no matching process is a zombie and gets
	// replaced.
	if err := tm.NewSession("rig", ""); err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := tm.EnsureFreshWithCommand("rig", "", "sleep 30", nil, []string{"sleep"}); err != nil {
		t.Fatalf("EnsureFreshWithCommand over zombie: %v", err)
	}
	defer tm.KillSessionWithProcesses("rig")

	if !tm.IsProcessRunning("rig", []string{"sleep"}) {
		t.Fatal("replacement session not running sleep")
	}

	// A live session is left alone.
	err := tm.EnsureFreshWithCommand("rig", "", "sleep 30", nil, []string{"sleep"})
	if !errors.Is(err, ErrSessionRunning) {
		t.Errorf("error = %v, want ErrSessionRunning", err)
	}
}

func TestSendKeysAndCapture(t *testing.T) {
	tm := newTestTmux(t, "sendkeys")

	if err := tm.NewSession("shell", ""); err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer tm.KillSession("shell")

	if err := tm.SendKeys("shell", "echo tamaki-marker-xyz"); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}
	time.Sleep(500 * time.Millisecond)

	out, err := tm.CapturePane("shell", 50)
	if err != nil {
		t.Fatalf("CapturePane: %v", err)
	}
	if !strings.Contains(out, "tamaki-marker-xyz") {
		t.Errorf("capture missing marker:\n%s", out)
	}
}

func TestApplyTheme(t *testing.T) {
	tm := newTestTmux(t, "theme")

	if err := tm.NewSession("themed", ""); err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer tm.KillSession("themed")

	for _, theme := range []Theme{SenderTheme(), ReceiverTheme()} {
		if err := tm.ApplyTheme("themed", theme); err != nil {
			t.Errorf("ApplyTheme(%s): %v", theme.Name, err)
		}
		if !strings.Contains(theme.Style(), theme.BG) {
			t.Errorf("Style() = %q, missing %q", theme.Style(), theme.BG)
		}
	}
}

func TestCheckSessionHealth(t *testing.T) {
	tm := newTestTmux(t, "health")

	if got := tm.CheckSessionHealth("absent", []string{"sleep"}, 0); got != SessionDead {
		t.Errorf("health of absent session = %v, want SessionDead", got)
	}

	if err := tm.NewSessionWithCommand("live", "", "sleep 30", nil); err != nil {
		t.Fatalf("NewSessionWithCommand: %v", err)
	}
	defer tm.KillSessionWithProcesses("live")

	if got := tm.CheckSessionHealth("live", []string{"sleep"}, 0); got != SessionHealthy {
		t.Errorf("health of live session = %v, want SessionHealthy", got)
	}
	if got := tm.CheckSessionHealth("live", []string{"python3"}, 0); got != ProcessDead {
		t.Errorf("health with wrong process name = %v, want ProcessDead", got)
	}
}

func TestKillSessionWithProcesses(t *testing.T) {
	tm := newTestTmux(t, "killtree")

	if err := tm.NewSessionWithCommand("tree", "", "sleep 300", nil); err != nil {
		t.Fatalf("NewSessionWithCommand: %v", err)
	}

	pid, err := tm.GetPanePID("tree")
	if err != nil {
		t.Fatalf("GetPanePID: %v", err)
	}

	if err := tm.KillSessionWithProcesses("tree"); err != nil {
		t.Fatalf("KillSessionWithProcesses: %v", err)
	}

	ok, _ := tm.HasSession("tree")
	if ok {
		t.Error("session still present after kill")
	}
	if pidAlive(pid) {
		t.Errorf("pane process %s survived kill", pid)
	}

	// Killing a nonexistent session is fine.
	if err := tm.KillSessionWithProcesses("tree"); err != nil {
		t.Errorf("second KillSessionWithProcesses: %v", err)
	}
}

func pidAlive(pid string) bool {
	var p int
	if _, err := fmt.Sscanf(pid, "%d", &p); err != nil {
		return false
	}
	proc, err := os.FindProcess(p)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without sending anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
