//go:build linux

package tunnel

import (
	"fmt"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
)

// MaxFrameSize is the largest frame read from the tunnel in one call.
const MaxFrameSize = 32767

// FrameSource reads whole frames from a tunnel descriptor. A pending Read can
// be woken from another goroutine with Interrupt.
type FrameSource struct {
	raw syscall.RawConn

	wakeR int
	wakeW int

	done      chan struct{}
	interrupt sync.Once
	closeOnce sync.Once

	buf []byte
}

// NewFrameSource wraps conn, which must expose a pollable descriptor
// delivering one frame per read (a TUN device or a pipe in tests).
func NewFrameSource(conn syscall.Conn) (*FrameSource, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("failed to get raw tunnel descriptor: %w", err)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("failed to create wake pipe: %w", err)
	}

	return &FrameSource{
		raw:   raw,
		wakeR: p[0],
		wakeW: p[1],
		done:  make(chan struct{}),
		buf:   make([]byte, MaxFrameSize),
	}, nil
}

// Read blocks until a frame arrives or the source is interrupted. The
// returned slice is owned by the caller. After Interrupt every call returns
// ErrReadCancelled.
func (s *FrameSource) Read() ([]byte, error) {
	for {
		select {
		case <-s.done:
			return nil, errors.ErrReadCancelled
		default:
		}

		n, ready, err := s.pollAndRead()
		if err != nil {
			return nil, err
		}
		if ready {
			frame := make([]byte, n)
			copy(frame, s.buf[:n])
			return frame, nil
		}
	}
}

// pollAndRead waits on the tunnel and the wake pipe. ready is false when the
// wait ended without a frame and the caller should re-check for interruption.
func (s *FrameSource) pollAndRead() (n int, ready bool, err error) {
	var opErr error
	ctrlErr := s.raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},
			{Fd: int32(s.wakeR), Events: unix.POLLIN},
		}

		if _, err := unix.Poll(fds, -1); err != nil {
			if err != unix.EINTR {
				opErr = fmt.Errorf("poll on tunnel failed: %w", err)
			}
			return
		}

		if fds[1].Revents != 0 {
			return
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && fds[0].Revents&unix.POLLIN == 0 {
			opErr = fmt.Errorf("tunnel descriptor closed (revents 0x%x)", fds[0].Revents)
			return
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			return
		}

		read, err := unix.Read(int(fd), s.buf)
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
		case err != nil:
			opErr = fmt.Errorf("read from tunnel failed: %w", err)
		case read == 0:
			opErr = fmt.Errorf("tunnel descriptor reached EOF")
		default:
			n, ready = read, true
		}
	})
	if ctrlErr != nil {
		return 0, false, fmt.Errorf("tunnel descriptor unavailable: %w", ctrlErr)
	}
	return n, ready, opErr
}

// Interrupt wakes a pending Read and makes all further reads fail with
// ErrReadCancelled. It is safe to call more than once and concurrently.
func (s *FrameSource) Interrupt() {
	s.interrupt.Do(func() {
		close(s.done)
		_, _ = unix.Write(s.wakeW, []byte{1})
	})
}

// Done is closed once Interrupt has been called.
func (s *FrameSource) Done() <-chan struct{} {
	return s.done
}

// Close interrupts the source and releases the wake pipe. It does not close
// the tunnel descriptor.
func (s *FrameSource) Close() error {
	s.Interrupt()
	s.closeOnce.Do(func() {
		_ = unix.Close(s.wakeR)
		_ = unix.Close(s.wakeW)
	})
	return nil
}
