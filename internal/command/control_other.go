//go:build !unix

package command

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
