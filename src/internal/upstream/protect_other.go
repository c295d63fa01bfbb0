//go:build !linux

package upstream

import "syscall"

// protectControl is a no-op where SO_MARK does not exist.
func protectControl(mark uint32) func(network, address string, c syscall.RawConn) error {
	return nil
}
