//go:build linux

package upstream

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// protectControl returns a dialer Control hook that sets SO_MARK on the
// socket before it connects.
func protectControl(mark uint32) func(network, address string, c syscall.RawConn) error {
	if mark == 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
		})
		if err != nil {
			return err
		}
		if opErr != nil {
			return fmt.Errorf("failed to set SO_MARK %d: %w", mark, opErr)
		}
		return nil
	}
}
