package dispatcher

import (
	"context"
	goerrors "errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/dnsmsg"
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
	"github.com/maksimkurb/keen-dnsguard/src/internal/packet"
)

const (
	DefaultWorkers   = 16
	DefaultQueueSize = 256
)

// ErrShutdown is returned by Submit after Shutdown.
var ErrShutdown = errors.New(errors.ErrCodeInternal, "dispatcher is shut down")

// Exchanger forwards a query upstream and returns the reply payload.
type Exchanger interface {
	Exchange(ctx context.Context, q *dnsmsg.Query, payload []byte) ([]byte, error)
}

// Matcher decides whether a normalized name is blocked.
type Matcher interface {
	Contains(name string) bool
}

type Options struct {
	Blocklist Matcher
	Upstream  Exchanger
	// Writer receives one complete reply frame per Write.
	Writer io.Writer

	Workers   int
	QueueSize int
}

// Stats are cumulative counters since the dispatcher was created.
type Stats struct {
	Received  uint64 `json:"received"`
	Blocked   uint64 `json:"blocked"`
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

type Dispatcher struct {
	opts Options

	queue  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	received  atomic.Uint64
	blocked   atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New starts the worker pool.
func New(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:   opts,
		queue:  make(chan []byte, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}

	log.Debugf("Dispatcher started with %d workers, queue size %d", opts.Workers, opts.QueueSize)
	return d
}

// Submit queues frame for handling. The dispatcher takes ownership of frame.
func (d *Dispatcher) Submit(frame []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrShutdown
	}

	d.received.Add(1)
	select {
	case d.queue <- frame:
		return nil
	default:
		d.dropped.Add(1)
		return errors.ErrQueueFull
	}
}

// Shutdown stops accepting frames, cancels outstanding work (closing any
// pending upstream sockets) and waits up to grace for the workers to exit.
// It reports whether all workers finished in time.
func (d *Dispatcher) Shutdown(grace time.Duration) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return true
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		log.Debugf("Dispatcher stopped")
		return true
	case <-timer.C:
		log.Warnf("Dispatcher workers did not stop within %v", grace)
		return false
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:  d.received.Load(),
		Blocked:   d.blocked.Load(),
		Forwarded: d.forwarded.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for frame := range d.queue {
		if d.ctx.Err() != nil {
			// Abandoned on shutdown
			d.dropped.Add(1)
			continue
		}
		d.handle(frame)
	}
}

func (d *Dispatcher) handle(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			log.Errorf("Panic while handling DNS frame: %v", r)
		}
	}()

	pkt, err := packet.Decode(frame)
	if err != nil {
		d.dropped.Add(1)
		log.Debugf("Dropping frame: %v", err)
		return
	}

	q, err := dnsmsg.ParseQuery(pkt.Payload)
	if err != nil {
		d.dropped.Add(1)
		log.Debugf("Dropping frame from %s: %v", pkt.Source(), err)
		return
	}

	var reply []byte
	if d.opts.Blocklist.Contains(q.Domain()) {
		log.Debugf("[%04x] BLOCKED %s from %s", q.ID, q, pkt.Source())
		reply, err = dnsmsg.BuildBlockedReply(q)
		if err == nil {
			d.blocked.Add(1)
		}
	} else {
		log.Debugf("[%04x] PERMITTED %s from %s", q.ID, q, pkt.Source())
		reply, err = d.opts.Upstream.Exchange(d.ctx, q, pkt.Payload)
		if err == nil {
			d.forwarded.Add(1)
		}
	}
	if err != nil {
		d.failed.Add(1)
		if goerrors.Is(err, context.Canceled) {
			log.Debugf("[%04x] Abandoned %s on shutdown", q.ID, q)
		} else {
			log.Warnf("[%04x] Failed to answer %s: %v", q.ID, q, err)
		}
		return
	}

	out, err := packet.EncodeReply(pkt, reply)
	if err != nil {
		d.failed.Add(1)
		log.Warnf("[%04x] Failed to encode reply: %v", q.ID, err)
		return
	}

	if _, err := d.opts.Writer.Write(out); err != nil {
		d.failed.Add(1)
		log.Warnf("[%04x] Failed to write reply to tunnel: %v", q.ID, err)
	}
}
