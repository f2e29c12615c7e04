package doctor

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artificial-imagination/tamaki/internal/config"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOK, "ok"},
		{StatusWarning, "warning"},
		{StatusError, "error"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestWorst(t *testing.T) {
	results := []*CheckResult{
		{Status: StatusOK},
		{Status: StatusWarning},
		{Status: StatusOK},
	}
	if got := Worst(results); got != StatusWarning {
		t.Errorf("Worst = %v, want warning", got)
	}

	results = append(results, &CheckResult{Status: StatusError})
	if got := Worst(results); got != StatusError {
		t.Errorf("Worst = %v, want error", got)
	}

	if got := Worst(nil); got != StatusOK {
		t.Errorf("Worst(nil) = %v, want ok", got)
	}
}

func TestAllChecksHaveNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range All() {
		name := c.Name()
		if name == "" {
			t.Error("check with empty name")
		}
		if seen[name] {
			t.Errorf("duplicate check name %q", name)
		}
		seen[name] = true
		if c.Description() == "" {
			t.Errorf("check %q has no description", name)
		}
	}
}

func TestConfigCheck(t *testing.T) {
	check := NewConfigCheck()

	t.Run("missing file warns", func(t *testing.T) {
		ctx := &CheckContext{
			ConfigPath: "/nonexistent/config.toml",
			ConfigErr:  fmt.Errorf("wrapped: %w", config.ErrNotFound),
		}
		result := check.Run(ctx)
		if result.Status != StatusWarning {
			t.Errorf("Status = %v, want warning", result.Status)
		}
		if result.FixHint == "" {
			t.Error("no fix hint for missing config")
		}
	})

	t.Run("parse error fails", func(t *testing.T) {
		ctx := &CheckContext{
			ConfigPath: "config.toml",
			ConfigErr:  fmt.Errorf("parsing config.toml: near line 3"),
		}
		result := check.Run(ctx)
		if result.Status != StatusError {
			t.Errorf("Status = %v, want error", result.Status)
		}
	})

	t.Run("no sensors warns", func(t *testing.T) {
		ctx := &CheckContext{Config: config.Default(), ConfigPath: "config.toml"}
		result := check.Run(ctx)
		if result.Status != StatusWarning {
			t.Errorf("Status = %v, want warning", result.Status)
		}
		if !strings.Contains(result.Message, "no sensors") {
			t.Errorf("Message = %q", result.Message)
		}
	})

	t.Run("sensors ok", func(t *testing.T) {
		cfg := config.Default()
		cfg.Sensors = []config.Sensor{{ID: "Sensor_0", Attach: config.AttachMux, Channel: 0}}
		ctx := &CheckContext{Config: cfg, ConfigPath: "config.toml"}
		result := check.Run(ctx)
		if result.Status != StatusOK {
			t.Errorf("Status = %v, want ok", result.Status)
		}
	})
}

func TestConfigCheckFix(t *testing.T) {
	check := NewConfigCheck()

	t.Run("writes starter for missing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		ctx := &CheckContext{
			ConfigPath: path,
			ConfigErr:  fmt.Errorf("wrapped: %w", config.ErrNotFound),
		}
		if !check.CanFix() {
			t.Fatal("CanFix = false")
		}
		if err := check.Fix(ctx); err != nil {
			t.Fatalf("Fix: %v", err)
		}
		if ctx.Config == nil || ctx.ConfigErr != nil {
			t.Fatalf("context not reloaded: cfg=%v err=%v", ctx.Config, ctx.ConfigErr)
		}

		// The re-run lands on the no-sensors warning, not not-found.
		result := check.Run(ctx)
		if result.Status != StatusWarning {
			t.Errorf("Status after fix = %v, want warning", result.Status)
		}
		if !strings.Contains(result.Message, "no sensors") {
			t.Errorf("Message after fix = %q", result.Message)
		}
	})

	t.Run("refuses existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte("not toml ["), 0o644); err != nil {
			t.Fatal(err)
		}
		ctx := &CheckContext{
			ConfigPath: path,
			ConfigErr:  fmt.Errorf("parsing %s: junk", path),
		}
		if err := check.Fix(ctx); err == nil {
			t.Error("Fix overwrote an existing config")
		}
	})
}

func TestPortCheck(t *testing.T) {
	check := NewPortCheck()

	t.Run("free port ok", func(t *testing.T) {
		// Find a free port by binding then releasing it.
		pc, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		port := pc.LocalAddr().(*net.UDPAddr).Port
		_ = pc.Close()

		cfg := config.Default()
		cfg.Network.CommandPort = port
		ctx := &CheckContext{Config: cfg, StateDir: t.TempDir()}

		result := check.Run(ctx)
		if result.Status != StatusOK {
			t.Errorf("Status = %v, want ok: %s", result.Status, result.Message)
		}
	})

	t.Run("held port without lock warns", func(t *testing.T) {
		pc, err := net.ListenPacket("udp", ":0")
		if err != nil {
			t.Fatal(err)
		}
		defer pc.Close()
		port := pc.LocalAddr().(*net.UDPAddr).Port

		cfg := config.Default()
		cfg.Network.CommandPort = port
		ctx := &CheckContext{Config: cfg, StateDir: t.TempDir()}

		result := check.Run(ctx)
		if result.Status != StatusWarning {
			t.Errorf("Status = %v, want warning: %s", result.Status, result.Message)
		}
	})

	t.Run("no config skips", func(t *testing.T) {
		result := check.Run(&CheckContext{StateDir: t.TempDir()})
		if result.Status != StatusWarning {
			t.Errorf("Status = %v, want warning", result.Status)
		}
	})
}

func TestLockCheck(t *testing.T) {
	check := NewLockCheck()

	t.Run("empty state dir ok", func(t *testing.T) {
		result := check.Run(&CheckContext{StateDir: t.TempDir()})
		if result.Status != StatusOK {
			t.Errorf("Status = %v, want ok", result.Status)
		}
	})

	t.Run("stale lock warns and fixes", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sender.lock")
		data := `{"pid":999999999,"acquired_at":"2026-01-01T00:00:00Z"}`
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		ctx := &CheckContext{StateDir: dir}
		result := check.Run(ctx)
		if result.Status != StatusWarning {
			t.Fatalf("Status = %v, want warning", result.Status)
		}
		if !check.CanFix() {
			t.Fatal("CanFix = false")
		}

		if err := check.Fix(ctx); err != nil {
			t.Fatalf("Fix: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("stale lock survived Fix")
		}

		result = check.Run(ctx)
		if result.Status != StatusOK {
			t.Errorf("Status after fix = %v, want ok", result.Status)
		}
	})

	t.Run("live lock ok", func(t *testing.T) {
		dir := t.TempDir()
		data := fmt.Sprintf(`{"pid":%d,"acquired_at":"2026-01-01T00:00:00Z"}`, os.Getpid())
		if err := os.WriteFile(filepath.Join(dir, "sender.lock"), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		result := check.Run(&CheckContext{StateDir: dir})
		if result.Status != StatusOK {
			t.Errorf("Status = %v, want ok: %s", result.Status, result.Message)
		}
	})
}

func TestBusCheckNoConfig(t *testing.T) {
	result := NewBusCheck().Run(&CheckContext{})
	if result.Status != StatusWarning {
		t.Errorf("Status = %v, want warning", result.Status)
	}
}

func TestRunAll(t *testing.T) {
	ctx := &CheckContext{
		ConfigPath: "/nonexistent/config.toml",
		ConfigErr:  fmt.Errorf("wrapped: %w", config.ErrNotFound),
		StateDir:   t.TempDir(),
	}
	results := RunAll(ctx, All())
	if len(results) != len(All()) {
		t.Fatalf("results = %d, want %d", len(results), len(All()))
	}
	for _, r := range results {
		if r.Name == "" {
			t.Error("result with empty name")
		}
	}
}
