package mocks

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/tunnel"
)

// FrameRecorder collects frames written to it. It satisfies io.Writer and is
// safe for concurrent use.
type FrameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	notify chan struct{}

	// WriteFunc is called by Write if not nil
	WriteFunc func(frame []byte) (int, error)
}

func NewFrameRecorder() *FrameRecorder {
	return &FrameRecorder{notify: make(chan struct{}, 1)}
}

// Write records a copy of frame.
func (r *FrameRecorder) Write(frame []byte) (int, error) {
	if r.WriteFunc != nil {
		if n, err := r.WriteFunc(frame); err != nil {
			return n, err
		}
	}

	r.mu.Lock()
	r.frames = append(r.frames, append([]byte(nil), frame...))
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return len(frame), nil
}

// Frames returns the frames written so far.
func (r *FrameRecorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

// WaitFrames blocks until at least n frames were written or timeout expires.
func (r *FrameRecorder) WaitFrames(n int, timeout time.Duration) ([][]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if frames := r.Frames(); len(frames) >= n {
			return frames, nil
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Frames(), fmt.Errorf("got %d frames, want %d", len(r.Frames()), n)
		}
	}
}

// MockHandle is a tunnel.Handle backed by a pipe. Frames passed to Inject
// become readable through SyscallConn; frames written by the engine are
// recorded.
type MockHandle struct {
	*FrameRecorder

	name string
	r, w *os.File

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMockHandle creates a pipe-backed tunnel handle.
func NewMockHandle(name string) (*MockHandle, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &MockHandle{
		FrameRecorder: NewFrameRecorder(),
		name:          name,
		r:             r,
		w:             w,
		closed:        make(chan struct{}),
	}, nil
}

func (h *MockHandle) Name() string {
	return h.name
}

func (h *MockHandle) SyscallConn() (syscall.RawConn, error) {
	return h.r.SyscallConn()
}

// Inject makes frame readable from the tunnel side.
func (h *MockHandle) Inject(frame []byte) error {
	_, err := h.w.Write(frame)
	return err
}

// Fail simulates the device going away: pending reads see EOF.
func (h *MockHandle) Fail() error {
	return h.w.Close()
}

func (h *MockHandle) Close() error {
	h.closeOnce.Do(func() {
		h.w.Close()
		h.r.Close()
		close(h.closed)
	})
	return nil
}

// Closed is closed once Close was called.
func (h *MockHandle) Closed() <-chan struct{} {
	return h.closed
}

// MockProvisioner hands out MockHandles.
type MockProvisioner struct {
	mu      sync.Mutex
	handles []*MockHandle

	// ProvisionFunc is called by Provision if not nil; a nil handle with a
	// nil error makes Provision create a fresh MockHandle.
	ProvisionFunc func(ctx context.Context, attempt int) (*MockHandle, error)

	// Provisioned receives every handle handed out, if not nil
	Provisioned chan *MockHandle
}

func NewMockProvisioner() *MockProvisioner {
	return &MockProvisioner{Provisioned: make(chan *MockHandle, 16)}
}

// Provision implements the session provisioner contract.
func (p *MockProvisioner) Provision(ctx context.Context) (tunnel.Handle, error) {
	p.mu.Lock()
	attempt := len(p.handles)
	p.mu.Unlock()

	var h *MockHandle
	if p.ProvisionFunc != nil {
		var err error
		h, err = p.ProvisionFunc(ctx, attempt)
		if err != nil {
			// Keep the attempt counter moving on failures
			p.mu.Lock()
			p.handles = append(p.handles, nil)
			p.mu.Unlock()
			return nil, err
		}
	}
	if h == nil {
		var err error
		h, err = NewMockHandle(fmt.Sprintf("mock%d", attempt))
		if err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	p.handles = append(p.handles, h)
	p.mu.Unlock()

	if p.Provisioned != nil {
		select {
		case p.Provisioned <- h:
		default:
		}
	}
	return h, nil
}

// Calls returns how many times Provision was called.
func (p *MockProvisioner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}
