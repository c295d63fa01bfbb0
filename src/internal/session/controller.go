package session

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/blocklist"
	"github.com/maksimkurb/keen-dnsguard/src/internal/connectivity"
	"github.com/maksimkurb/keen-dnsguard/src/internal/dispatcher"
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
	"github.com/maksimkurb/keen-dnsguard/src/internal/tunnel"
)

// DefaultShutdownGrace bounds how long in-flight queries may run on stop.
const DefaultShutdownGrace = 2 * time.Second

// Provisioner creates the tunnel for one session.
type Provisioner interface {
	Provision(ctx context.Context) (tunnel.Handle, error)
}

// ResolverDiscovery returns the resolvers queries are forwarded to.
type ResolverDiscovery interface {
	Discover() ([]netip.AddrPort, error)
}

// ListLoader returns the configured block list sources.
type ListLoader interface {
	Sources() ([]blocklist.Source, error)
}

// UpstreamFactory builds the forwarder for a resolver snapshot.
type UpstreamFactory func(servers []netip.AddrPort) (dispatcher.Exchanger, error)

// FrameReader is the interruptible read side of the tunnel.
type FrameReader interface {
	Read() ([]byte, error)
	Interrupt()
	Close() error
}

type Deps struct {
	Provisioner Provisioner
	Discovery   ResolverDiscovery
	Lists       ListLoader
	Upstream    UpstreamFactory

	// Events delivers connectivity changes; nil disables them.
	Events <-chan connectivity.Event
	// Sink defaults to LogSink.
	Sink StatusSink
	// NewReader defaults to tunnel.NewFrameSource.
	NewReader func(tunnel.Handle) (FrameReader, error)
}

type Options struct {
	Workers       int
	QueueSize     int
	ShutdownGrace time.Duration
	Retry         RetryPolicy
}

// Runtime is everything that lives for exactly one tunnel session. It is
// built by STARTING and never modified afterwards.
type Runtime struct {
	Tunnel     tunnel.Handle
	Upstreams  []netip.AddrPort
	Blocklist  *blocklist.BlockList
	Dispatcher *dispatcher.Dispatcher

	reader   FrameReader
	readDone chan struct{}
	faults   chan error
}

// Controller drives the session state machine. Run may be called once.
type Controller struct {
	deps Deps
	opts Options

	reconnect chan struct{}

	mu        sync.RWMutex
	state     State
	runtime   *Runtime
	blocklist *blocklist.BlockList
	totals    dispatcher.Stats
}

func NewController(deps Deps, opts Options) *Controller {
	if deps.Sink == nil {
		deps.Sink = LogSink{}
	}
	if deps.NewReader == nil {
		deps.NewReader = defaultFrameReader
	}
	if opts.Retry == nil {
		opts.Retry = FixedDelay(DefaultRetryDelay)
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Controller{
		deps:      deps,
		opts:      opts,
		reconnect: make(chan struct{}, 1),
		state:     Starting,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Runtime returns the active session, or nil when no tunnel is up.
func (c *Controller) Runtime() *Runtime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runtime
}

// Blocklist returns the loaded block list, or nil before the first start.
func (c *Controller) Blocklist() *blocklist.BlockList {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocklist
}

// Stats returns dispatcher counters accumulated over all sessions.
func (c *Controller) Stats() dispatcher.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.totals
	if c.runtime != nil {
		addStats(&total, c.runtime.Dispatcher.Stats())
	}
	return total
}

// Reconnect rebuilds the tunnel and reloads the block lists.
func (c *Controller) Reconnect() {
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}

// Run drives the session until ctx is cancelled. Failures never end Run;
// they lead to another attempt after the retry delay.
func (c *Controller) Run(ctx context.Context) error {
	state := Starting
	attempt := 0
	var cause error

	for {
		c.setState(state)

		switch state {
		case Starting:
			if err := c.start(ctx); err != nil {
				if ctx.Err() != nil {
					state = Stopping
					continue
				}
				attempt++
				cause = err
				c.deps.Sink.ReconnectingAfterError(err)
				state = ReconnectingError
				continue
			}
			attempt, cause = 0, nil
			state = Running

		case Running:
			state, cause = c.serve(ctx)
			if state == ReconnectingError {
				attempt++
				c.deps.Sink.ReconnectingAfterError(cause)
			}

		case WaitingForNetwork:
			c.teardown()
			state = c.waitForNetwork(ctx)

		case Reconnecting, ReconnectingError:
			c.teardown()
			delay := c.opts.Retry.NextDelay(attempt, cause)
			if delay < 0 {
				log.Errorf("Giving up after %d attempts: %v", attempt, cause)
				state = Stopping
				continue
			}
			log.Infof("Restarting tunnel in %v", delay)
			state = c.sleep(ctx, delay)

		case Stopping:
			c.teardown()
			return nil
		}
	}
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()

	// Repeated STARTING after a retry is still reported
	if changed || state == Starting {
		c.deps.Sink.StateChanged(state)
	}
}

// start builds a Runtime: tunnel, resolver snapshot, block list and workers.
func (c *Controller) start(ctx context.Context) (err error) {
	servers, err := c.deps.Discovery.Discover()
	if err != nil {
		return err
	}
	log.Infof("Using upstream DNS servers: %v", servers)

	bl, err := c.loadBlocklist()
	if err != nil {
		return err
	}

	exchanger, err := c.deps.Upstream(servers)
	if err != nil {
		return err
	}

	handle, err := c.deps.Provisioner.Provision(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if cerr := handle.Close(); cerr != nil {
				log.Warnf("Failed to close tunnel %s: %v", handle.Name(), cerr)
			}
		}
	}()

	reader, err := c.deps.NewReader(handle)
	if err != nil {
		return errors.NewTunnelError("failed to open tunnel reader", err)
	}

	rt := &Runtime{
		Tunnel:    handle,
		Upstreams: servers,
		Blocklist: bl,
		Dispatcher: dispatcher.New(dispatcher.Options{
			Blocklist: bl,
			Upstream:  exchanger,
			Writer:    handle,
			Workers:   c.opts.Workers,
			QueueSize: c.opts.QueueSize,
		}),
		reader:   reader,
		readDone: make(chan struct{}),
		faults:   make(chan error, 1),
	}
	go c.readLoop(rt)

	c.mu.Lock()
	c.runtime = rt
	c.mu.Unlock()
	return nil
}

// loadBlocklist reads the lists on the first start and after Reconnect.
func (c *Controller) loadBlocklist() (*blocklist.BlockList, error) {
	if bl := c.Blocklist(); bl != nil {
		return bl, nil
	}

	sources, err := c.deps.Lists.Sources()
	if err != nil {
		return nil, err
	}
	bl, err := blocklist.Load(sources...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.blocklist = bl
	c.mu.Unlock()
	return bl, nil
}

func (c *Controller) readLoop(rt *Runtime) {
	defer close(rt.readDone)

	name := rt.Tunnel.Name()
	log.Debugf("Reading frames from %s", name)
	for {
		frame, err := rt.reader.Read()
		if err != nil {
			if goerrors.Is(err, errors.ErrReadCancelled) {
				log.Debugf("Read loop on %s cancelled", name)
				return
			}
			rt.faults <- errors.NewTunnelError(fmt.Sprintf("read from %s failed", name), err)
			return
		}

		if err := rt.Dispatcher.Submit(frame); err != nil {
			log.Debugf("Frame not queued: %v", err)
		}
	}
}

// serve waits in RUNNING for the next reason to leave it.
func (c *Controller) serve(ctx context.Context) (State, error) {
	rt := c.Runtime()

	select {
	case <-ctx.Done():
		return Stopping, nil
	case err := <-rt.faults:
		return ReconnectingError, err
	case <-c.reconnect:
		c.dropBlocklist()
		return Reconnecting, nil
	case event := <-c.deps.Events:
		log.Infof("Connectivity %s", event)
		if event == connectivity.Lost {
			return WaitingForNetwork, nil
		}
		return Reconnecting, nil
	}
}

func (c *Controller) waitForNetwork(ctx context.Context) State {
	for {
		select {
		case <-ctx.Done():
			return Stopping
		case <-c.reconnect:
			c.dropBlocklist()
			return Reconnecting
		case event := <-c.deps.Events:
			if event != connectivity.Lost {
				log.Infof("Connectivity %s", event)
				return Reconnecting
			}
		}
	}
}

func (c *Controller) sleep(ctx context.Context, delay time.Duration) State {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Stopping
	case <-timer.C:
		return Starting
	}
}

func (c *Controller) dropBlocklist() {
	c.mu.Lock()
	c.blocklist = nil
	c.mu.Unlock()
}

// teardown stops the read loop first so nothing touches the descriptor
// while it is closed, then drains the workers and releases the tunnel.
func (c *Controller) teardown() {
	c.mu.Lock()
	rt := c.runtime
	c.runtime = nil
	c.mu.Unlock()
	if rt == nil {
		return
	}

	rt.reader.Interrupt()
	<-rt.readDone

	rt.Dispatcher.Shutdown(c.opts.ShutdownGrace)

	c.mu.Lock()
	addStats(&c.totals, rt.Dispatcher.Stats())
	c.mu.Unlock()

	if err := rt.Tunnel.Close(); err != nil {
		log.Warnf("Failed to close tunnel %s: %v", rt.Tunnel.Name(), err)
	}
	if err := rt.reader.Close(); err != nil {
		log.Debugf("Failed to close tunnel reader: %v", err)
	}
}

func addStats(dst *dispatcher.Stats, s dispatcher.Stats) {
	dst.Received += s.Received
	dst.Blocked += s.Blocked
	dst.Forwarded += s.Forwarded
	dst.Dropped += s.Dropped
	dst.Failed += s.Failed
}
