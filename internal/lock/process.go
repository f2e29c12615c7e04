package lock

import (
	"errors"
	"os"
	"syscall"
)

// processExists reports whether a process with the given PID is alive.
// Signal 0 probes without delivering anything; EPERM still means the
// process exists, just not ours.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
