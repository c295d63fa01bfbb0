//go:build !linux

package session

import (
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/tunnel"
)

func defaultFrameReader(tunnel.Handle) (FrameReader, error) {
	return nil, errors.NewTunnelError("tunnel reads are only supported on linux", nil)
}
