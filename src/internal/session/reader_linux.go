//go:build linux

package session

import "github.com/maksimkurb/keen-dnsguard/src/internal/tunnel"

func defaultFrameReader(h tunnel.Handle) (FrameReader, error) {
	return tunnel.NewFrameSource(h)
}
