package commands

import (
	"fmt"
	"net/netip"

	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/dispatcher"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
	"github.com/maksimkurb/keen-dnsguard/src/internal/tunnel"
	"github.com/maksimkurb/keen-dnsguard/src/internal/upstream"
)

type Runner interface {
	Init(args []string, globalArgs *AppContext) error
	Run() error
	Name() string
}

type AppContext struct {
	ConfigPath string
	Verbose    bool

	Version string
	Commit  string
	Date    string
}

func loadConfigOrFail(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}
	return cfg, nil
}

// loadAndValidateConfigOrFail loads configuration from file and validates it.
func loadAndValidateConfigOrFail(configPath string) (*config.Config, error) {
	cfg, err := loadConfigOrFail(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return cfg, nil
}

// tunnelOptions converts the tunnel section into provisioner options.
func tunnelOptions(cfg *config.Config) tunnel.Options {
	t := cfg.Tunnel
	opts := tunnel.Options{
		Name:          t.GetName(),
		Address:       t.GetAddress(),
		DNSAddress:    t.GetDNSAddress(),
		Routes:        t.GetRoutes(),
		MTU:           t.GetMTU(),
		CaptureDNS:    t.IsCaptureDNSEnabled(),
		ProtectFwMark: t.GetProtectFwMark(),
	}
	if t != nil {
		for _, rule := range t.CaptureRules {
			opts.CaptureRules = append(opts.CaptureRules, tunnel.Rule{
				Table: rule.Table,
				Chain: rule.Chain,
				Rule:  rule.Rule,
			})
		}
	}
	return opts
}

// newDiscovery builds resolver discovery that never returns the tunnel's own
// addresses.
func newDiscovery(cfg *config.Config) *upstream.Discovery {
	return upstream.NewDiscovery(
		cfg.Upstream.GetServers(),
		cfg.Upstream.GetResolvConf(),
		cfg.Tunnel.GetDNSAddress(),
		cfg.Tunnel.GetAddress().Addr(),
	)
}

// upstreamFactory creates a forwarder per session from the resolver snapshot.
func upstreamFactory(cfg *config.Config) func([]netip.AddrPort) (dispatcher.Exchanger, error) {
	timeout := cfg.Upstream.GetQueryTimeout()
	fwmark := cfg.Tunnel.GetProtectFwMark()
	return func(servers []netip.AddrPort) (dispatcher.Exchanger, error) {
		fwd, err := upstream.NewForwarder(servers, timeout, fwmark)
		if err != nil {
			return nil, err
		}
		log.Infof("Forwarding permitted queries to %s", fwd.Server())
		return fwd, nil
	}
}
