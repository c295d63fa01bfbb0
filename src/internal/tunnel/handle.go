package tunnel

import (
	"io"
	"net/netip"
	"syscall"
)

// Handle is an open tunnel device. Each Write sends exactly one frame.
type Handle interface {
	syscall.Conn
	io.Writer
	io.Closer

	// Name returns the interface name.
	Name() string
}

// Options describe the tunnel to provision.
type Options struct {
	Name       string
	Address    netip.Prefix
	DNSAddress netip.Addr
	Routes     []netip.Prefix
	MTU        int

	// CaptureDNS redirects host DNS to DNSAddress with iptables.
	CaptureDNS bool
	// ProtectFwMark marks upstream sockets; capture rules skip marked packets.
	ProtectFwMark uint32
	// CaptureRules replace the built-in capture rules when not empty.
	CaptureRules []Rule
}

// Rule is an iptables rule template. Chain, Table and every Rule part may
// reference {{dns_addr}}, {{fwmark}} and {{tun}}.
type Rule struct {
	Table string
	Chain string
	Rule  []string
}
