//go:build !linux

package i2c

import "fmt"

// Open fails on non-Linux platforms; i2c-dev is Linux-only. The CLI
// still builds everywhere so session management works from any host.
func Open(device string) (BusCloser, error) {
	return nil, fmt.Errorf("%w: cannot open %s", ErrUnsupported, device)
}
