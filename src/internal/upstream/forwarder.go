package upstream

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/dnsmsg"
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
)

// maxReplySize is the largest UDP payload that still fits an IPv4 frame.
const maxReplySize = 65535 - 20 - 8

// Forwarder sends captured queries to the first upstream server.
type Forwarder struct {
	server  netip.AddrPort
	timeout time.Duration
	dialer  *net.Dialer
}

// NewForwarder creates a forwarder for servers. timeout bounds a single
// exchange; zero leaves it unbounded so only cancellation ends a stalled
// exchange. fwmark is set on every upstream socket unless zero.
func NewForwarder(servers []netip.AddrPort, timeout time.Duration, fwmark uint32) (*Forwarder, error) {
	if len(servers) == 0 {
		return nil, errors.NewUpstreamError("no upstream DNS servers configured", nil)
	}

	return &Forwarder{
		server:  servers[0],
		timeout: timeout,
		dialer: &net.Dialer{
			Control: protectControl(fwmark),
		},
	}, nil
}

// Server returns the upstream server queries are sent to.
func (f *Forwarder) Server() netip.AddrPort {
	return f.server
}

// Exchange sends payload, the raw query q was parsed from, and returns the
// first reply datagram byte for byte. The socket is closed when the exchange
// ends or ctx is cancelled, whichever comes first.
func (f *Forwarder) Exchange(ctx context.Context, q *dnsmsg.Query, payload []byte) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	conn, err := f.dialer.DialContext(ctx, "udp4", f.server.String())
	if err != nil {
		return nil, errors.NewUpstreamError(fmt.Sprintf("[%04x] failed to open upstream socket", q.ID), err)
	}
	defer conn.Close()

	// Unblocks a pending read on shutdown or timeout
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	log.Debugf("[%04x] Forwarding %s to %s", q.ID, q, f.server)
	if _, err := conn.Write(payload); err != nil {
		return nil, errors.NewUpstreamError(fmt.Sprintf("[%04x] failed to send query upstream", q.ID), contextErr(ctx, err))
	}

	buf := make([]byte, maxReplySize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, errors.NewUpstreamError(fmt.Sprintf("[%04x] failed to receive upstream reply", q.ID), contextErr(ctx, err))
	}

	reply := buf[:n]
	if err := dnsmsg.ValidateReply(q, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// contextErr prefers the context error, which explains why a socket closed
// underneath a pending call.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}
