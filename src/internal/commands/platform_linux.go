//go:build linux

package commands

import (
	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/connectivity"
	"github.com/maksimkurb/keen-dnsguard/src/internal/session"
	"github.com/maksimkurb/keen-dnsguard/src/internal/tunnel"
)

func newProvisioner(cfg *config.Config) (session.Provisioner, error) {
	return tunnel.NewLinuxProvisioner(tunnelOptions(cfg)), nil
}

func newConnectivitySource() (connectivity.Source, error) {
	return connectivity.NewNetlinkSource(), nil
}
