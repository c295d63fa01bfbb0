package config

import (
	"net/netip"
	"time"
)

const (
	DefaultConfigPath      = "/opt/etc/keen-dnsguard/keen-dnsguard.conf"
	DefaultTunnelName      = "dnsguard0"
	DefaultTunnelAddress   = "192.168.50.1/24"
	DefaultTunnelDNS       = "192.168.50.5"
	DefaultTunnelRoute     = "192.168.50.0/24"
	DefaultTunnelMTU       = 1500
	DefaultProtectFwMark   = uint32(0x1d53)
	DefaultResolvConf      = "/etc/resolv.conf"
	DefaultQueryTimeoutSec = 5
	DefaultWorkers         = 16
	DefaultQueueSize       = 256
	DefaultRetryDelaySec   = 2
	DefaultShutdownGraceMs = 2000
	DefaultAPIListen       = "127.0.0.1:8053"
)

func (g *GeneralConfig) GetRetryDelay() time.Duration {
	if g == nil || g.RetryDelaySec == nil {
		return DefaultRetryDelaySec * time.Second
	}
	return time.Duration(*g.RetryDelaySec) * time.Second
}

func (g *GeneralConfig) GetShutdownGrace() time.Duration {
	if g == nil || g.ShutdownGraceMs == nil {
		return DefaultShutdownGraceMs * time.Millisecond
	}
	return time.Duration(*g.ShutdownGraceMs) * time.Millisecond
}

func (t *TunnelConfig) GetName() string {
	if t == nil || t.Name == "" {
		return DefaultTunnelName
	}
	return t.Name
}

// GetAddress returns the tunnel address prefix. Invalid values fall back to
// the default; ValidateConfig reports them.
func (t *TunnelConfig) GetAddress() netip.Prefix {
	if t != nil && t.Address != "" {
		if p, err := netip.ParsePrefix(t.Address); err == nil {
			return p
		}
	}
	return netip.MustParsePrefix(DefaultTunnelAddress)
}

func (t *TunnelConfig) GetDNSAddress() netip.Addr {
	if t != nil && t.DNSAddress != "" {
		if a, err := netip.ParseAddr(t.DNSAddress); err == nil {
			return a
		}
	}
	return netip.MustParseAddr(DefaultTunnelDNS)
}

func (t *TunnelConfig) GetRoutes() []netip.Prefix {
	if t == nil || len(t.Routes) == 0 {
		return []netip.Prefix{netip.MustParsePrefix(DefaultTunnelRoute)}
	}
	routes := make([]netip.Prefix, 0, len(t.Routes))
	for _, r := range t.Routes {
		if p, err := netip.ParsePrefix(r); err == nil {
			routes = append(routes, p.Masked())
		}
	}
	return routes
}

func (t *TunnelConfig) GetMTU() int {
	if t == nil || t.MTU == 0 {
		return DefaultTunnelMTU
	}
	return t.MTU
}

func (t *TunnelConfig) IsCaptureDNSEnabled() bool {
	if t == nil || t.CaptureDNS == nil {
		return true
	}
	return *t.CaptureDNS
}

func (t *TunnelConfig) GetProtectFwMark() uint32 {
	if t == nil || t.ProtectFwMark == nil {
		return DefaultProtectFwMark
	}
	return *t.ProtectFwMark
}

func (u *UpstreamConfig) GetResolvConf() string {
	if u == nil || u.ResolvConf == "" {
		return DefaultResolvConf
	}
	return u.ResolvConf
}

// GetQueryTimeout returns the upstream exchange timeout; zero means unbounded.
func (u *UpstreamConfig) GetQueryTimeout() time.Duration {
	if u == nil || u.QueryTimeoutSec == nil {
		return DefaultQueryTimeoutSec * time.Second
	}
	return time.Duration(*u.QueryTimeoutSec) * time.Second
}

func (u *UpstreamConfig) GetServers() []string {
	if u == nil {
		return nil
	}
	return u.Servers
}

func (d *DispatcherConfig) GetWorkers() int {
	if d == nil || d.Workers == 0 {
		return DefaultWorkers
	}
	return d.Workers
}

func (d *DispatcherConfig) GetQueueSize() int {
	if d == nil || d.QueueSize == 0 {
		return DefaultQueueSize
	}
	return d.QueueSize
}

func (a *APIConfig) IsEnabled() bool {
	return a != nil && a.Enabled
}

func (a *APIConfig) GetListen() string {
	if a == nil || a.Listen == "" {
		return DefaultAPIListen
	}
	return a.Listen
}
