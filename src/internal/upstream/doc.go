// Package upstream talks to the real resolvers.
//
// Forwarder relays a captured query to the first upstream server over a
// fresh UDP socket and returns the reply datagram unchanged. Sockets carry
// the protect fwmark so the DNS capture rules do not send them back into the
// tunnel.
//
// Discovery snapshots the upstream servers at session start, either from the
// configuration or from the host's resolv.conf.
package upstream
