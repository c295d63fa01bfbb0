package utils

import (
	"net"
	"net/netip"
)

// PrefixToIPNet converts p to the *net.IPNet netlink expects, keeping the
// host bits of the address.
func PrefixToIPNet(p netip.Prefix) *net.IPNet {
	bits := p.Addr().BitLen()
	return &net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), bits),
	}
}

