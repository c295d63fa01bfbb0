//go:build !linux

package commands

import (
	"runtime"

	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/connectivity"
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/session"
)

func newProvisioner(*config.Config) (session.Provisioner, error) {
	return nil, errors.NewTunnelError("TUN devices are not supported on "+runtime.GOOS, nil)
}

func newConnectivitySource() (connectivity.Source, error) {
	return nil, errors.NewTunnelError("link monitoring is not supported on "+runtime.GOOS, nil)
}
