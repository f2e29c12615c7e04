// Package launcher manages the supervised tmux session that keeps the
// sender alive after the launching terminal disconnects. It composes
// the tmux backend, the state-dir lock files, and the events feed into
// the up/down/status/peek lifecycle operations.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/events"
	"github.com/artificial-imagination/tamaki/internal/lock"
	"github.com/artificial-imagination/tamaki/internal/tmux"
)

// Common errors
var (
	ErrAlreadyRunning = errors.New("sender session already running")
	ErrNotRunning     = errors.New("sender session not running")
	ErrNoTmux         = errors.New("tmux not found on PATH")
)

// Lock files under the state dir. The sender holds SenderLockName for
// its whole run; LaunchLockName only serializes concurrent launcher
// invocations.
const (
	SenderLockName = "sender.lock"
	LaunchLockName = "launch.lock"
)

// launchLockTimeout bounds how long one Up waits for another to finish.
const launchLockTimeout = 5 * time.Second

// gracefulStopWait gives the sender time to log totals and close its
// sockets after Ctrl-C before the session is killed.
const gracefulStopWait = 500 * time.Millisecond

// SenderLockPath returns the sender's lock file under stateDir.
func SenderLockPath(stateDir string) string {
	return filepath.Join(stateDir, SenderLockName)
}

// Manager handles sender session lifecycle operations.
type Manager struct {
	cfg        *config.Config
	tm         *tmux.Tmux
	stateDir   string
	configPath string // propagated into the session environment
}

// NewManager creates a manager for the configured session.
func NewManager(cfg *config.Config, configPath string) (*Manager, error) {
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:        cfg,
		tm:         tmux.New(),
		stateDir:   stateDir,
		configPath: configPath,
	}, nil
}

// SetTmux overrides the tmux backend. Tests point this at a scoped
// socket so they never touch the user's server.
func (m *Manager) SetTmux(t *tmux.Tmux) { m.tm = t }

// SetStateDir overrides the state directory.
func (m *Manager) SetStateDir(dir string) { m.stateDir = dir }

// StateDir returns the directory holding locks and the events feed.
func (m *Manager) StateDir() string { return m.stateDir }

// SessionName returns the tmux session name for the sender.
func (m *Manager) SessionName() string {
	if s := m.cfg.Launcher.Session; s != "" {
		return s
	}
	return config.DefaultSession
}

// UpResult reports what Up did.
type UpResult struct {
	Session  string
	Command  string
	PanePID  string
	Replaced bool // a zombie session was killed first
}

// Up creates the detached session running the sender. A healthy
// existing session returns ErrAlreadyRunning untouched; a zombie
// (session present, sender dead) is killed and replaced.
func (m *Manager) Up(ctx context.Context) (*UpResult, error) {
	if !m.tm.IsAvailable() {
		return nil, ErrNoTmux
	}
	session := m.SessionName()

	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	// Two ups racing would both see no session and both create one.
	fl := flock.New(filepath.Join(m.stateDir, LaunchLockName))
	lockCtx, cancel := context.WithTimeout(ctx, launchLockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil || !locked {
		return nil, errors.New("another launcher invocation is in progress")
	}
	defer func() { _ = fl.Unlock() }()

	command, err := m.innerCommand()
	if err != nil {
		return nil, err
	}

	workDir := m.cfg.Launcher.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
	}

	env := map[string]string{
		"TAMAKI_SESSION":   session,
		"TAMAKI_LAUNCH_ID": uuid.NewString(),
		config.EnvStateDir: m.stateDir,
	}
	if m.configPath != "" {
		if abs, err := filepath.Abs(m.configPath); err == nil {
			env[config.EnvConfig] = abs
		}
	}

	names := m.processNames()

	// Log the zombie's death before it is killed so the feed keeps the
	// order of what actually happened.
	replaced := false
	if running, _ := m.tm.HasSession(session); running && !m.tm.IsProcessRunning(session, names) {
		replaced = true
		m.logEvent(events.TypeSessionDeath,
			events.SessionDeathPayload(session, "zombie replaced", "tamaki up"))
	}

	if err := m.tm.EnsureFreshWithCommand(session, workDir, command, env, names); err != nil {
		if errors.Is(err, tmux.ErrSessionRunning) {
			return nil, ErrAlreadyRunning
		}
		return nil, err
	}

	// Cosmetic; an unthemed session is still a working one.
	_ = m.tm.ApplyTheme(session, tmux.SenderTheme())

	pid, _ := m.tm.GetPanePID(session)
	pidNum, _ := strconv.Atoi(pid)
	m.logEvent(events.TypeSessionStart, events.SessionStartPayload(session, command, pidNum))

	return &UpResult{
		Session:  session,
		Command:  command,
		PanePID:  pid,
		Replaced: replaced,
	}, nil
}

// DownResult reports what Down did.
type DownResult struct {
	Session string
	Stopped bool // false when no session existed
}

// Down stops the session. Unless force is set, the sender first gets
// Ctrl-C and a short grace so its shutdown totals land in scrollback.
// Stopping an absent session is not an error.
func (m *Manager) Down(force bool) (*DownResult, error) {
	session := m.SessionName()

	running, err := m.tm.HasSession(session)
	if err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	if !running {
		return &DownResult{Session: session}, nil
	}

	if !force {
		_ = m.tm.SendKeysRaw(session, "C-c")
		time.Sleep(gracefulStopWait)
	}

	reason := "user shutdown"
	if force {
		reason = "forced shutdown"
	}
	m.logEvent(events.TypeSessionDeath, events.SessionDeathPayload(session, reason, "tamaki down"))

	if err := m.tm.KillSessionWithProcesses(session); err != nil {
		return nil, fmt.Errorf("killing session: %w", err)
	}
	return &DownResult{Session: session, Stopped: true}, nil
}

// Status aggregates session state, pane details, and sender lock
// ownership into one report.
type Status struct {
	Session       string
	SessionExists bool
	Health        tmux.ZombieStatus
	PanePID       string
	PaneCommand   string
	Activity      time.Time
	Lock          *lock.LockInfo // nil when no sender lock exists
	LockStale     bool
}

// Status inspects the session and the sender lock without touching
// either.
func (m *Manager) Status() (*Status, error) {
	session := m.SessionName()
	st := &Status{Session: session, Health: tmux.SessionDead}

	running, err := m.tm.HasSession(session)
	if err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	st.SessionExists = running
	if running {
		st.Health = m.tm.CheckSessionHealth(session, m.processNames(), 0)
		st.PanePID, _ = m.tm.GetPanePID(session)
		st.PaneCommand, _ = m.tm.GetPaneCommand(session)
		if activity, err := m.tm.GetSessionActivity(session); err == nil {
			st.Activity = activity
		}
	}

	if info, err := lock.New(SenderLockPath(m.stateDir)).Read(); err == nil {
		st.Lock = info
		st.LockStale = info.IsStale()
	}
	return st, nil
}

// Peek returns session scrollback: the last n lines, or everything
// when n <= 0.
func (m *Manager) Peek(n int) (string, error) {
	session := m.SessionName()

	running, err := m.tm.HasSession(session)
	if err != nil {
		return "", fmt.Errorf("checking session: %w", err)
	}
	if !running {
		return "", ErrNotRunning
	}

	if n <= 0 {
		return m.tm.CapturePaneAll(session)
	}
	return m.tm.CapturePane(session, n)
}

// AttachArgv returns the binary path and argv for replacing the current
// process with an attach to the session.
func (m *Manager) AttachArgv() (string, []string, error) {
	session := m.SessionName()

	running, err := m.tm.HasSession(session)
	if err != nil {
		return "", nil, fmt.Errorf("checking session: %w", err)
	}
	if !running {
		return "", nil, ErrNotRunning
	}
	return m.tm.AttachCommand(session)
}

// innerCommand builds the command the pane runs: the configured
// override verbatim, else the current binary re-invoked as "send".
func (m *Manager) innerCommand() (string, error) {
	if c := strings.TrimSpace(m.cfg.Launcher.Command); c != "" {
		return c, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolving executable: %w", err)
	}
	return shellQuote(exe) + " send", nil
}

// ProcessNames returns the commands that count as a live sender when
// classifying the session: the binary itself, plus the first word of a
// configured command override.
func ProcessNames(cfg *config.Config) []string {
	names := []string{"tamaki"}
	if c := strings.TrimSpace(cfg.Launcher.Command); c != "" {
		if fields := strings.Fields(c); len(fields) > 0 {
			if base := filepath.Base(fields[0]); base != "" && base != "tamaki" {
				names = append(names, base)
			}
		}
	}
	return names
}

func (m *Manager) processNames() []string { return ProcessNames(m.cfg) }

func (m *Manager) logEvent(eventType string, payload map[string]any) {
	// The feed is diagnostics; lifecycle operations never fail on it.
	_ = events.Log(m.stateDir, eventType, events.ActorCLI, payload)
}

// shellQuote wraps a string in single quotes for safe shell expansion.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
