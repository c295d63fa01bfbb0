package upstream

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"

	"github.com/miekg/dns"

	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
)

// systemdResolvConf lists the real upstreams when resolv.conf points at the
// systemd-resolved stub.
const systemdResolvConf = "/run/systemd/resolve/resolv.conf"

// Discovery returns the upstream servers for a session.
type Discovery struct {
	static      []string
	resolvConfs []string
	exclude     map[netip.Addr]bool
}

// NewDiscovery uses static servers when given, otherwise the nameservers
// from resolvConf. Addresses in exclude (the tunnel's own DNS address) are
// never returned.
func NewDiscovery(static []string, resolvConf string, exclude ...netip.Addr) *Discovery {
	d := &Discovery{
		static:      static,
		resolvConfs: []string{resolvConf},
		exclude:     make(map[netip.Addr]bool, len(exclude)),
	}
	if resolvConf != systemdResolvConf {
		d.resolvConfs = append(d.resolvConfs, systemdResolvConf)
	}
	for _, addr := range exclude {
		d.exclude[addr] = true
	}
	return d
}

// Discover returns the ordered upstream list. Loopback resolvers are skipped
// because their own upstream traffic is captured and would loop back.
func (d *Discovery) Discover() ([]netip.AddrPort, error) {
	if len(d.static) > 0 {
		servers := make([]netip.AddrPort, 0, len(d.static))
		for _, s := range d.static {
			ap, err := config.ParseUpstreamAddr(s)
			if err != nil {
				return nil, errors.NewConfigError("invalid upstream server", err)
			}
			if d.exclude[ap.Addr()] {
				log.Warnf("Skipping upstream %s: it is the tunnel DNS address", ap)
				continue
			}
			servers = append(servers, ap)
		}
		if len(servers) == 0 {
			return nil, errors.NewUpstreamError("no usable upstream DNS servers configured", nil)
		}
		return servers, nil
	}

	var lastErr error
	for _, path := range d.resolvConfs {
		servers, err := d.fromResolvConf(path)
		if err != nil {
			lastErr = err
			continue
		}
		if len(servers) > 0 {
			log.Debugf("Discovered upstream DNS servers from %s: %v", path, servers)
			return servers, nil
		}
	}

	if lastErr != nil {
		return nil, errors.NewUpstreamError("failed to discover upstream DNS servers", lastErr)
	}
	return nil, errors.NewUpstreamError("no usable upstream DNS servers found", nil)
}

func (d *Discovery) fromResolvConf(path string) ([]netip.AddrPort, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	cc, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	port := uint16(53)
	if p, err := strconv.ParseUint(cc.Port, 10, 16); err == nil && p != 0 {
		port = uint16(p)
	}

	var servers []netip.AddrPort
	for _, s := range cc.Servers {
		// Strip an IPv6 zone or brackets before parsing
		host := s
		if h, _, err := net.SplitHostPort(s); err == nil {
			host = h
		}
		addr, err := netip.ParseAddr(host)
		if err != nil {
			log.Debugf("Skipping nameserver %q from %s: %v", s, path, err)
			continue
		}
		addr = addr.Unmap()
		switch {
		case !addr.Is4():
			log.Debugf("Skipping IPv6 nameserver %s from %s", addr, path)
		case addr.IsLoopback():
			log.Debugf("Skipping loopback nameserver %s from %s", addr, path)
		case d.exclude[addr]:
			log.Debugf("Skipping tunnel DNS address %s from %s", addr, path)
		default:
			servers = append(servers, netip.AddrPortFrom(addr, port))
		}
	}
	return servers, nil
}
