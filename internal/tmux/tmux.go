// Package tmux provides a wrapper for tmux session operations via subprocess.
//
// The sender runs unattended inside a detached session; this package
// covers what its supervision needs: create-with-command, health checks,
// zombie detection, scrollback capture, and process-tree teardown.
package tmux

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// validSessionNameRe validates session names to prevent shell injection.
// Dots and colons also confuse tmux targeting, so they are rejected.
var validSessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Common errors
var (
	ErrNoServer           = errors.New("no tmux server running")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionRunning     = errors.New("session already running with live sender")
	ErrInvalidSessionName = errors.New("invalid session name")
)

// validateSessionName checks that a session name contains only safe characters.
func validateSessionName(name string) error {
	if name == "" || !validSessionNameRe.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidSessionName, name, validSessionNameRe.String())
	}
	return nil
}

// shells whose presence as the pane command means "nothing interesting
// running yet". A supervised command wrapped in a shell line (e.g. venv
// activation) is detected through its descendants instead.
var knownShells = []string{"bash", "zsh", "sh", "fish", "dash"}

// processKillGracePeriod is how long to wait after SIGTERM before SIGKILL.
// The sender flushes stats and closes sockets on SIGTERM; two seconds is
// plenty, and anything still alive after that is not going to cooperate.
const processKillGracePeriod = 2 * time.Second

// Tmux wraps tmux operations.
type Tmux struct {
	socketName string // tmux socket name (-L flag), empty = default server
}

// New returns a wrapper for the user's default tmux server, where the
// installation's session traditionally lives.
func New() *Tmux {
	return &Tmux{}
}

// NewWithSocket returns a wrapper targeting a named socket. An isolated
// server keeps test sessions away from the operator's own tmux.
func NewWithSocket(socket string) *Tmux {
	return &Tmux{socketName: socket}
}

// run executes a tmux command and returns stdout. All commands include
// -u so UTF-8 output survives odd locale settings on the Pi.
func (t *Tmux) run(args ...string) (string, error) {
	allArgs := []string{"-u"}
	if t.socketName != "" {
		allArgs = append(allArgs, "-L", t.socketName)
	}
	allArgs = append(allArgs, args...)
	cmd := exec.Command("tmux", allArgs...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", t.wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// wrapError classifies tmux stderr into sentinel errors.
func (t *Tmux) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") ||
		strings.Contains(stderr, "no current target") ||
		strings.Contains(stderr, "server exited unexpectedly") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "duplicate session") {
		return ErrSessionExists
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// IsAvailable reports whether the tmux binary works at all.
func (t *Tmux) IsAvailable() bool {
	return exec.Command("tmux", "-V").Run() == nil
}

// NewSession creates a new detached tmux session running the default shell.
func (t *Tmux) NewSession(name, workDir string) error {
	if err := validateSessionName(name); err != nil {
		return err
	}
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	if _, err := t.run(args...); err != nil {
		return err
	}
	// tmux 3.3+ sets window-size=manual on detached sessions (no client
	// present), locking the window at 80x24 even after a client attaches.
	// Override so the window follows the attaching client.
	_, _ = t.run("set-option", "-wt", name, "window-size", "latest")
	return nil
}

// NewSessionWithCommand creates a detached session whose pane runs command
// as its initial process, with env set session-scoped via -e flags before
// anything starts. Creation is two-step: make the session with a plain
// shell, enable remain-on-exit, then respawn the pane onto the command.
// That closes the race between a fast-failing command and the health
// check, which would otherwise see no session at all.
func (t *Tmux) NewSessionWithCommand(name, workDir, command string, env map[string]string) error {
	if err := validateSessionName(name); err != nil {
		return err
	}
	if workDir != "" {
		info, err := os.Stat(workDir)
		if err != nil {
			return fmt.Errorf("invalid work directory %q: %w", workDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("work directory %q is not a directory", workDir)
		}
	}

	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, env[k]))
	}
	if _, err := t.run(args...); err != nil {
		return err
	}
	_, _ = t.run("set-option", "-wt", name, "window-size", "latest")

	// remain-on-exit must be set before the command runs so a dead pane
	// still exists for exit-status inspection.
	_, _ = t.run("set-option", "-t", name, "remain-on-exit", "on")

	respawnArgs := []string{"respawn-pane", "-k", "-t", name}
	if workDir != "" {
		respawnArgs = append(respawnArgs, "-c", workDir)
	}
	respawnArgs = append(respawnArgs, command)
	if _, err := t.run(respawnArgs...); err != nil {
		_ = t.KillSession(name)
		return fmt.Errorf("failed to start command in session %q: %w", name, err)
	}

	return t.checkSessionAfterCreate(name, command)
}

// checkSessionAfterCreate verifies the new session's command did not die
// immediately (missing binary, bad config path, syntax error). Expects
// remain-on-exit to be enabled already. Clean exits (status 0) are not
// errors; either way a dead session is removed.
func (t *Tmux) checkSessionAfterCreate(name, command string) error {
	checkPaneDead := func() (bool, error) {
		dead, status := t.PaneExitStatus(name)
		if !dead {
			return false, nil
		}
		_ = t.KillSession(name)
		if status != "" && status != "0" {
			return true, fmt.Errorf("session %q: command exited with status %s: %s", name, status, command)
		}
		return true, nil
	}

	// First check at 50ms catches fast failures; the 250ms recheck catches
	// slow exec failures on a loaded host. A healthy long-lived sender is
	// still alive at both points.
	time.Sleep(50 * time.Millisecond)
	if dead, err := checkPaneDead(); dead {
		return err
	}
	time.Sleep(200 * time.Millisecond)
	if dead, err := checkPaneDead(); dead {
		return err
	}

	_, _ = t.run("set-option", "-t", name, "remain-on-exit", "off")
	return nil
}

// EnsureFreshWithCommand creates the session running command, replacing a
// zombie (session present, sender dead) if one is in the way. When the
// existing session has a live supervised process it returns
// ErrSessionRunning and leaves it alone.
func (t *Tmux) EnsureFreshWithCommand(name, workDir, command string, env map[string]string, processNames []string) error {
	if err := validateSessionName(name); err != nil {
		return err
	}

	running, err := t.HasSession(name)
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if running {
		if t.IsProcessRunning(name, processNames) {
			return ErrSessionRunning
		}
		if err := t.KillSessionWithProcesses(name); err != nil {
			return fmt.Errorf("killing zombie session: %w", err)
		}
	}

	return t.NewSessionWithCommand(name, workDir, command, env)
}

// HasSession checks if a session exists. The "=" prefix forces exact
// matching so "tamaki" does not match a "tamaki-debug" session.
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListSessions returns all session names on this server.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// KillSession terminates a session. Idempotent: a session that is already
// gone, or a dead server, is success.
func (t *Tmux) KillSession(name string) error {
	_, err := t.run("kill-session", "-t", name)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
		return nil
	}
	return err
}

// KillSessionWithProcesses kills every process in the session before
// terminating it. kill-session alone sends SIGHUP, which long-lived
// processes may ignore and survive as orphans.
//
// Teardown order: walk the pane's descendants (deepest first), add group
// members that were reparented to init, SIGTERM everything, wait the
// grace period, SIGKILL stragglers, then the pane process itself, then
// the tmux session.
func (t *Tmux) KillSessionWithProcesses(name string) error {
	pid, err := t.GetPanePID(name)
	if err != nil {
		// Session or server may already be gone.
		killErr := t.KillSession(name)
		if killErr == nil || errors.Is(killErr, ErrSessionNotFound) || errors.Is(killErr, ErrNoServer) {
			return nil
		}
		return killErr
	}

	if pid != "" {
		descendants := getAllDescendants(pid)

		knownPIDs := make(map[string]bool, len(descendants)+1)
		knownPIDs[pid] = true
		for _, d := range descendants {
			knownPIDs[d] = true
		}

		// Processes that outlived their parent keep the pane's PGID but
		// reparent to init. Enumerating them beats killing the whole
		// group blindly, which could hit unrelated PGID sharers.
		pgid := getProcessGroupID(pid)
		if pgid != "" && pgid != "0" && pgid != "1" {
			descendants = append(descendants, collectReparentedGroupMembers(pgid, knownPIDs)...)
		}

		for _, dpid := range descendants {
			_ = exec.Command("kill", "-TERM", dpid).Run()
		}
		time.Sleep(processKillGracePeriod)
		for _, dpid := range descendants {
			_ = exec.Command("kill", "-KILL", dpid).Run()
		}

		_ = exec.Command("kill", "-TERM", pid).Run()
		time.Sleep(processKillGracePeriod)
		_ = exec.Command("kill", "-KILL", pid).Run()
	}

	// Killing the pane process may have already taken the session down.
	err = t.KillSession(name)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
		return nil
	}
	return err
}

// KillServer terminates the whole tmux server. Test cleanup only.
func (t *Tmux) KillServer() error {
	_, err := t.run("kill-server")
	if errors.Is(err, ErrNoServer) {
		return nil
	}
	return err
}

// SendKeys sends keystrokes to a session followed by Enter, with a
// debounce between paste and Enter so the Enter lands after the paste
// has been processed.
func (t *Tmux) SendKeys(session, keys string) error {
	return t.SendKeysDebounced(session, keys, 100)
}

// SendKeysDebounced sends keystrokes with a configurable delay before Enter.
func (t *Tmux) SendKeysDebounced(session, keys string, debounceMs int) error {
	// Literal mode (-l) so special characters arrive as text.
	if _, err := t.run("send-keys", "-t", session, "-l", keys); err != nil {
		return err
	}
	if debounceMs > 0 {
		time.Sleep(time.Duration(debounceMs) * time.Millisecond)
	}
	// Enter goes separately; appending it to the paste is unreliable.
	_, err := t.run("send-keys", "-t", session, "Enter")
	return err
}

// SendKeysRaw sends key names (e.g. "C-c") without adding Enter.
func (t *Tmux) SendKeysRaw(session, keys string) error {
	_, err := t.run("send-keys", "-t", session, keys)
	return err
}

// CapturePane captures the last lines of the pane's visible content and
// scrollback.
func (t *Tmux) CapturePane(session string, lines int) (string, error) {
	return t.run("capture-pane", "-p", "-t", session, "-S", fmt.Sprintf("-%d", lines))
}

// CapturePaneAll captures the entire scrollback.
func (t *Tmux) CapturePaneAll(session string) (string, error) {
	return t.run("capture-pane", "-p", "-t", session, "-S", "-")
}

// GetPanePID returns the PID of the pane's main process. Session names
// target the first window (:^) explicitly so an operator's extra window
// does not shadow the supervised pane; "%"-prefixed pane IDs pass through.
func (t *Tmux) GetPanePID(target string) (string, error) {
	tmuxTarget := target
	if !strings.HasPrefix(target, "%") {
		tmuxTarget = target + ":^"
	}
	out, err := t.run("display-message", "-t", tmuxTarget, "-p", "#{pane_pid}")
	if err != nil {
		return "", err
	}
	result := strings.TrimSpace(out)
	if result == "" {
		return "", fmt.Errorf("empty PID for target %s (session may not exist)", target)
	}
	return result, nil
}

// GetPaneCommand returns the pane's current command, targeting the first
// window for the same reason as GetPanePID.
func (t *Tmux) GetPaneCommand(session string) (string, error) {
	out, err := t.run("display-message", "-t", session+":^", "-p", "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	result := strings.TrimSpace(out)
	if result == "" {
		return "", fmt.Errorf("empty command for session %s (session may not exist)", session)
	}
	return result, nil
}

// PaneExitStatus reports whether the pane's process has died and, if so,
// its exit status as tmux recorded it. Meaningful only while
// remain-on-exit holds the dead pane open.
func (t *Tmux) PaneExitStatus(session string) (dead bool, status string) {
	out, _ := t.run("display-message", "-p", "-t", session, "#{pane_dead}")
	if strings.TrimSpace(out) != "1" {
		return false, ""
	}
	st, _ := t.run("display-message", "-p", "-t", session, "#{pane_dead_status}")
	return true, strings.TrimSpace(st)
}

// GetSessionActivity returns the last activity time of the session,
// updated by tmux on any pane input or output.
func (t *Tmux) GetSessionActivity(session string) (time.Time, error) {
	out, err := t.run("display-message", "-t", session, "-p", "#{session_activity}")
	if err != nil {
		return time.Time{}, err
	}
	var ts int64
	if _, err := fmt.Sscanf(strings.TrimSpace(out), "%d", &ts); err != nil {
		return time.Time{}, fmt.Errorf("parsing session activity: %w", err)
	}
	return time.Unix(ts, 0), nil
}

// SetEnvironment sets a session-scoped environment variable.
func (t *Tmux) SetEnvironment(session, key, value string) error {
	_, err := t.run("set-environment", "-t", session, key, value)
	return err
}

// GetEnvironment reads a session-scoped environment variable.
func (t *Tmux) GetEnvironment(session, key string) (string, error) {
	out, err := t.run("show-environment", "-t", session, key)
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(out, "=", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("unexpected environment format for %s: %q", key, out)
	}
	return parts[1], nil
}

// AttachCommand returns the binary path and argv for replacing the
// current process with an interactive attach to the session. The caller
// execs it; running attach through run() would capture the terminal
// instead of handing it over.
func (t *Tmux) AttachCommand(session string) (string, []string, error) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return "", nil, fmt.Errorf("tmux not found in PATH: %w", err)
	}
	args := []string{"tmux", "-u"}
	if t.socketName != "" {
		args = append(args, "-L", t.socketName)
	}
	args = append(args, "attach-session", "-t", "="+session)
	return path, args, nil
}

// IsProcessRunning reports whether the supervised process is alive in
// the session. With processNames, the pane command must match one of
// them, or a shell pane must have a matching descendant (the venv
// wrapper case). Without names, any non-shell pane command counts.
func (t *Tmux) IsProcessRunning(session string, processNames []string) bool {
	cmd, err := t.GetPaneCommand(session)
	if err != nil {
		return false
	}

	if len(processNames) == 0 {
		for _, shell := range knownShells {
			if cmd == shell {
				return false
			}
		}
		return cmd != ""
	}

	for _, name := range processNames {
		if cmd == name {
			return true
		}
	}

	pid, err := t.GetPanePID(session)
	if err != nil || pid == "" {
		return false
	}
	for _, shell := range knownShells {
		if cmd == shell {
			return hasDescendantWithNames(pid, processNames, 0)
		}
	}
	if processMatchesNames(pid, processNames) {
		return true
	}
	return hasDescendantWithNames(pid, processNames, 0)
}

// ZombieStatus describes the liveness state of the supervised session.
type ZombieStatus int

const (
	// SessionHealthy means the session exists and the sender is alive.
	SessionHealthy ZombieStatus = iota
	// SessionDead means the tmux session does not exist.
	SessionDead
	// ProcessDead means the session exists but the sender has died.
	ProcessDead
	// ProcessHung means the sender is alive but the session has shown no
	// activity for longer than the given threshold.
	ProcessHung
)

// String returns a human-readable label for the status.
func (z ZombieStatus) String() string {
	switch z {
	case SessionHealthy:
		return "healthy"
	case SessionDead:
		return "session-dead"
	case ProcessDead:
		return "process-dead"
	case ProcessHung:
		return "process-hung"
	default:
		return "unknown"
	}
}

// IsZombie reports whether the session exists but its process is dead or
// hung, meaning it must be killed before a fresh launch.
func (z ZombieStatus) IsZombie() bool {
	return z == ProcessDead || z == ProcessHung
}

// CheckSessionHealth classifies the session in three levels: existence,
// process liveness, then activity staleness. Pass maxInactivity 0 to
// skip the activity level. A sender idling at low frequency still logs
// stats periodically, so hours of silence means something is stuck.
func (t *Tmux) CheckSessionHealth(session string, processNames []string, maxInactivity time.Duration) ZombieStatus {
	alive, err := t.HasSession(session)
	if err != nil || !alive {
		return SessionDead
	}

	if !t.IsProcessRunning(session, processNames) {
		return ProcessDead
	}

	if maxInactivity > 0 {
		lastActivity, err := t.GetSessionActivity(session)
		if err == nil && !lastActivity.IsZero() {
			if time.Since(lastActivity) > maxInactivity {
				return ProcessHung
			}
		}
		// On error, skip the activity level rather than false-positive.
	}

	return SessionHealthy
}

// getAllDescendants recursively finds descendant PIDs of a process,
// deepest first so killing in order doesn't orphan grandchildren.
func getAllDescendants(pid string) []string {
	var result []string

	out, err := exec.Command("pgrep", "-P", pid).Output()
	if err != nil {
		return result
	}

	for _, child := range strings.Fields(strings.TrimSpace(string(out))) {
		result = append(result, getAllDescendants(child)...)
		result = append(result, child)
	}
	return result
}

// getProcessGroupID returns the PGID of a process, or "" if unknown.
func getProcessGroupID(pid string) string {
	out, err := exec.Command("ps", "-o", "pgid=", "-p", pid).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// getProcessGroupMembers returns the PIDs belonging to a process group.
func getProcessGroupMembers(pgid string) []string {
	out, err := exec.Command("pgrep", "-g", pgid).Output()
	if err != nil {
		return nil
	}
	return strings.Fields(strings.TrimSpace(string(out)))
}

// getParentPID returns the PPID of a process, or "" if unknown.
func getParentPID(pid string) string {
	out, err := exec.Command("ps", "-o", "ppid=", "-p", pid).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// collectReparentedGroupMembers returns process group members outside the
// known descendant set whose parent is init. Those were almost certainly
// part of our tree before their parent died; anything else in the group
// is left alone.
func collectReparentedGroupMembers(pgid string, knownPIDs map[string]bool) []string {
	var reparented []string
	for _, member := range getProcessGroupMembers(pgid) {
		if knownPIDs[member] {
			continue
		}
		if getParentPID(member) == "1" {
			reparented = append(reparented, member)
		}
	}
	return reparented
}

// processMatchesNames checks the process's executable name against names,
// via ps comm. Handles processes that rewrite their argv[0].
func processMatchesNames(pid string, names []string) bool {
	if len(names) == 0 {
		return false
	}
	out, err := exec.Command("ps", "-p", pid, "-o", "comm=").Output()
	if err != nil {
		return false
	}
	comm := filepath.Base(strings.TrimSpace(string(out)))
	for _, name := range names {
		if comm == name {
			return true
		}
	}
	return false
}

// hasDescendantWithNames reports whether any descendant of pid matches
// one of names, up to a fixed depth.
func hasDescendantWithNames(pid string, names []string, depth int) bool {
	const maxDepth = 10
	if len(names) == 0 || depth > maxDepth {
		return false
	}
	out, err := exec.Command("pgrep", "-P", pid, "-l").Output()
	if err != nil {
		return false
	}
	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
	}
	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) < 2 {
			continue
		}
		childPid, childName := parts[0], parts[1]
		if nameSet[childName] {
			return true
		}
		if hasDescendantWithNames(childPid, names, depth+1) {
			return true
		}
	}
	return false
}
