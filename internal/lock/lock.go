// Package lock provides sender ownership locking so two invocations
// cannot drive the same sensor bus and UDP ports at once.
//
// A lock is a flock(2)-held file containing JSON metadata:
// - PID of the owning process
// - Timestamp when lock was acquired
// - Session name the owner runs under
//
// The flock is the actual mutual exclusion and vanishes with the owning
// process; the JSON survives crashes so status and doctor can still name
// the previous owner. Stale metadata (dead PID, no flock) is cleaned up
// automatically.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// Common errors
var (
	ErrLocked      = errors.New("held by another process")
	ErrNotLocked   = errors.New("not locked")
	ErrInvalidLock = errors.New("invalid lock file")
)

// LockInfo contains information about who holds a lock.
type LockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	SessionID  string    `json:"session_id,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
}

// IsStale checks if the lock is stale (owning process is dead).
func (l *LockInfo) IsStale() bool {
	return !processExists(l.PID)
}

// Lock represents an ownership lock backed by a file in the state
// directory.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New creates a Lock at the given path. Nothing is taken until Acquire.
func New(path string) *Lock {
	return &Lock{
		path: path,
		fl:   flock.New(path),
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire attempts to take the lock, recording sessionID in the
// metadata. Returns ErrLocked if another live process holds it.
// Re-acquiring a lock this process already holds refreshes the metadata.
func (l *Lock) Acquire(sessionID string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	got, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", l.path, err)
	}
	if !got {
		// Live owner. The metadata tells us who.
		if info, readErr := l.Read(); readErr == nil {
			return fmt.Errorf("%w: PID %d (session: %s, acquired: %s)",
				ErrLocked, info.PID, info.SessionID, info.AcquiredAt.Format(time.RFC3339))
		}
		return ErrLocked
	}

	// flock acquired. Any JSON already present belonged to a dead owner.
	return l.writeInfo(sessionID)
}

// Release drops the flock and removes the metadata file if we hold it.
func (l *Lock) Release() error {
	if l.fl.Locked() {
		if err := l.fl.Unlock(); err != nil {
			return fmt.Errorf("unlocking %s: %w", l.path, err)
		}
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Read reads the current lock metadata without taking the lock.
func (l *Lock) Read() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLocked
		}
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	if len(data) == 0 {
		// flock holder that has not written metadata yet, or a crash
		// between open and write.
		return nil, ErrNotLocked
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLock, err)
	}

	return &info, nil
}

// Check reports whether another live process holds the lock.
// Returns nil if unlocked, stale, or held by us.
// Stale metadata is cleaned up in passing.
func (l *Lock) Check() error {
	info, err := l.Read()
	if err != nil {
		if errors.Is(err, ErrNotLocked) {
			return nil
		}
		return err
	}

	if info.IsStale() {
		_ = os.Remove(l.path)
		return nil
	}

	if info.PID == os.Getpid() {
		return nil
	}

	return fmt.Errorf("%w: PID %d (session: %s)", ErrLocked, info.PID, info.SessionID)
}

// Status returns a human-readable status of the lock.
func (l *Lock) Status() string {
	info, err := l.Read()
	if err != nil {
		if errors.Is(err, ErrNotLocked) {
			return "unlocked"
		}
		return fmt.Sprintf("error: %v", err)
	}

	if info.IsStale() {
		return fmt.Sprintf("stale (dead PID %d)", info.PID)
	}

	if info.PID == os.Getpid() {
		return "locked (by us)"
	}

	return fmt.Sprintf("locked by PID %d (session: %s)", info.PID, info.SessionID)
}

// ForceRelease removes the lock file regardless of who holds it.
// Use with caution, doctor --fix only.
func (l *Lock) ForceRelease() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// writeInfo creates or updates the lock metadata.
func (l *Lock) writeInfo(sessionID string) error {
	hostname, _ := os.Hostname()
	info := LockInfo{
		PID:        os.Getpid(),
		AcquiredAt: time.Now(),
		SessionID:  sessionID,
		Hostname:   hostname,
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lock info: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0644); err != nil { //nolint:gosec // G306: lock files are non-sensitive operational data
		return fmt.Errorf("writing lock file: %w", err)
	}

	return nil
}

// FindAllLocks lists the *.lock files in the state directory.
// Returns a map of lock path -> LockInfo.
func FindAllLocks(stateDir string) (map[string]*LockInfo, error) {
	locks := make(map[string]*LockInfo)

	entries, err := os.ReadDir(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return locks, nil
		}
		return nil, fmt.Errorf("reading state directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		path := filepath.Join(stateDir, entry.Name())
		info, err := New(path).Read()
		if err == nil {
			locks[path] = info
		}
	}

	return locks, nil
}

// CleanStaleLocks removes all stale locks in the state directory.
// Returns the number of stale locks cleaned.
// A lock is stale when the owning PID is dead.
func CleanStaleLocks(stateDir string) (int, error) {
	locks, err := FindAllLocks(stateDir)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for path, info := range locks {
		if info.IsStale() {
			if err := os.Remove(path); err == nil {
				cleaned++
			}
		}
	}

	return cleaned, nil
}
