//go:build linux

package session

import (
	"context"
	stderrors "errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/maksimkurb/keen-dnsguard/src/internal/blocklist"
	"github.com/maksimkurb/keen-dnsguard/src/internal/connectivity"
	"github.com/maksimkurb/keen-dnsguard/src/internal/dispatcher"
	"github.com/maksimkurb/keen-dnsguard/src/internal/mocks"
)

type recordingSink struct {
	mu     sync.Mutex
	states []State
	errs   []error
	ch     chan State
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan State, 64)}
}

func (s *recordingSink) StateChanged(state State) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
	s.ch <- state
}

func (s *recordingSink) ReconnectingAfterError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *recordingSink) errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func (s *recordingSink) waitFor(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case got := <-s.ch:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for state %s", want)
		}
	}
}

type countingLoader struct {
	calls atomic.Int32
	err   error
}

func (l *countingLoader) Sources() ([]blocklist.Source, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return []blocklist.Source{blocklist.StringSource{
		SourceName: "test",
		Lines:      []string{"127.0.0.1 ads.example.com"},
	}}, nil
}

type harness struct {
	ctrl     *Controller
	prov     *mocks.MockProvisioner
	disc     *mocks.MockDiscovery
	loader   *countingLoader
	sink     *recordingSink
	events   chan connectivity.Event
	upstream *mocks.MockExchanger

	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		prov:     mocks.NewMockProvisioner(),
		disc:     &mocks.MockDiscovery{Servers: []netip.AddrPort{netip.MustParseAddrPort("192.0.2.53:53")}},
		loader:   &countingLoader{},
		sink:     newRecordingSink(),
		events:   make(chan connectivity.Event, 1),
		upstream: mocks.NewMockExchanger(),
	}
	h.ctrl = NewController(Deps{
		Provisioner: h.prov,
		Discovery:   h.disc,
		Lists:       h.loader,
		Upstream: func(servers []netip.AddrPort) (dispatcher.Exchanger, error) {
			return h.upstream, nil
		},
		Events: h.events,
		Sink:   h.sink,
	}, Options{
		Workers:       2,
		ShutdownGrace: time.Second,
		Retry:         FixedDelay(10 * time.Millisecond),
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
		h.done <- nil
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func (h *harness) nextHandle(t *testing.T) *mocks.MockHandle {
	t.Helper()
	select {
	case handle := <-h.prov.Provisioned:
		return handle
	case <-time.After(3 * time.Second):
		t.Fatal("No tunnel was provisioned")
	}
	return nil
}

func queryFrame(t *testing.T, id uint16, name string) []byte {
	t.Helper()
	frame, err := mocks.BuildQueryFrame(id, name, dns.TypeA)
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	return frame
}

func TestController_AnswersAndStops(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.sink.waitFor(t, Running)
	handle := h.nextHandle(t)

	if err := handle.Inject(queryFrame(t, 0x0101, "ads.example.com")); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if err := handle.Inject(queryFrame(t, 0x0202, "example.org")); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if _, err := handle.WaitFrames(2, 3*time.Second); err != nil {
		t.Fatalf("Expected two replies: %v", err)
	}

	if s := h.ctrl.Stats(); s.Blocked != 1 || s.Forwarded != 1 {
		t.Errorf("Unexpected stats %+v", s)
	}
	if rt := h.ctrl.Runtime(); rt == nil || len(rt.Upstreams) != 1 {
		t.Errorf("Expected runtime with one upstream, got %+v", rt)
	}

	h.stop(t)
	select {
	case <-handle.Closed():
	default:
		t.Error("Tunnel was not closed on stop")
	}
	if h.ctrl.State() != Stopping {
		t.Errorf("State() = %s, want STOPPING", h.ctrl.State())
	}
	if h.ctrl.Runtime() != nil {
		t.Error("Runtime should be released on stop")
	}
	// Counters survive the session
	if s := h.ctrl.Stats(); s.Received != 2 {
		t.Errorf("Expected accumulated stats after stop, got %+v", s)
	}
}

func TestController_RetriesAfterProvisionFailure(t *testing.T) {
	h := newHarness(t)
	h.prov.ProvisionFunc = func(ctx context.Context, attempt int) (*mocks.MockHandle, error) {
		if attempt < 2 {
			return nil, stderrors.New("device busy")
		}
		return nil, nil
	}
	h.start(t)

	h.sink.waitFor(t, Running)
	if calls := h.prov.Calls(); calls != 3 {
		t.Errorf("Expected 3 provision attempts, got %d", calls)
	}
	if errs := h.sink.errors(); len(errs) != 2 {
		t.Errorf("Expected 2 ReconnectingAfterError signals, got %d", len(errs))
	}
	// The lists are only read once
	if n := h.loader.calls.Load(); n != 1 {
		t.Errorf("Expected lists to be loaded once, got %d", n)
	}
}

func TestController_WaitsForNetwork(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.sink.waitFor(t, Running)
	first := h.nextHandle(t)

	h.events <- connectivity.Lost
	h.sink.waitFor(t, WaitingForNetwork)

	select {
	case <-first.Closed():
	case <-time.After(3 * time.Second):
		t.Fatal("Tunnel was not closed while waiting for network")
	}

	h.events <- connectivity.Changed
	h.sink.waitFor(t, Reconnecting)
	h.sink.waitFor(t, Running)

	second := h.nextHandle(t)
	if second == first {
		t.Error("Expected a fresh tunnel after reconnect")
	}
	if n := h.disc.Calls(); n != 2 {
		t.Errorf("Expected resolvers to be rediscovered, got %d discoveries", n)
	}
}

func TestController_ReadFaultReconnects(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.sink.waitFor(t, Running)
	first := h.nextHandle(t)

	if err := first.Fail(); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	h.sink.waitFor(t, ReconnectingError)
	h.sink.waitFor(t, Running)

	if errs := h.sink.errors(); len(errs) != 1 {
		t.Errorf("Expected one error signal, got %v", errs)
	}
	if h.prov.Calls() != 2 {
		t.Errorf("Expected a second tunnel, got %d provisions", h.prov.Calls())
	}
}

func TestController_ReconnectReloadsLists(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.sink.waitFor(t, Running)
	h.ctrl.Reconnect()
	h.sink.waitFor(t, Reconnecting)
	h.sink.waitFor(t, Running)

	if n := h.loader.calls.Load(); n != 2 {
		t.Errorf("Expected lists to be reloaded, got %d loads", n)
	}
	if h.ctrl.Blocklist() == nil || !h.ctrl.Blocklist().Contains("ads.example.com") {
		t.Error("Expected the block list to be available")
	}
}

func TestController_DiscoveryFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.disc.Err = stderrors.New("no resolvers")
	h.start(t)

	h.sink.waitFor(t, ReconnectingError)
	h.sink.waitFor(t, Starting)
	if h.prov.Calls() != 0 {
		t.Error("No tunnel should be provisioned without resolvers")
	}
}

func TestController_StopWhileRetrying(t *testing.T) {
	h := newHarness(t)
	h.ctrl.opts.Retry = FixedDelay(time.Hour)
	h.loader.err = stderrors.New("list missing")
	h.start(t)

	h.sink.waitFor(t, ReconnectingError)
	start := time.Now()
	h.stop(t)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v while waiting to retry", elapsed)
	}
}
