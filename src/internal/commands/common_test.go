package commands

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/upstream"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keen-dnsguard.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestTunnelOptions_Defaults(t *testing.T) {
	opts := tunnelOptions(&config.Config{})

	if opts.Name != config.DefaultTunnelName {
		t.Errorf("Name = %q", opts.Name)
	}
	if opts.DNSAddress != netip.MustParseAddr(config.DefaultTunnelDNS) {
		t.Errorf("DNSAddress = %s", opts.DNSAddress)
	}
	if !opts.CaptureDNS {
		t.Error("DNS capture must be enabled by default")
	}
	if len(opts.CaptureRules) != 0 {
		t.Errorf("Expected built-in capture rules, got %v", opts.CaptureRules)
	}
}

func TestTunnelOptions_CustomRules(t *testing.T) {
	disabled := false
	cfg := &config.Config{
		Tunnel: &config.TunnelConfig{
			Name:       "guard1",
			Address:    "10.99.0.1/30",
			DNSAddress: "10.99.0.2",
			MTU:        1400,
			CaptureDNS: &disabled,
			CaptureRules: []*config.IPTablesRule{
				{Table: "nat", Chain: "OUTPUT", Rule: []string{"-p", "udp", "-j", "DNAT", "--to-destination", "{{dns_addr}}"}},
			},
		},
	}

	opts := tunnelOptions(cfg)
	if opts.Name != "guard1" || opts.MTU != 1400 || opts.CaptureDNS {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if opts.Address != netip.MustParsePrefix("10.99.0.1/30") {
		t.Errorf("Address = %s", opts.Address)
	}
	if len(opts.CaptureRules) != 1 || opts.CaptureRules[0].Chain != "OUTPUT" || len(opts.CaptureRules[0].Rule) != 6 {
		t.Errorf("CaptureRules = %+v", opts.CaptureRules)
	}
}

func TestNewDiscovery_ExcludesTunnelAddresses(t *testing.T) {
	cfg := &config.Config{
		Tunnel: &config.TunnelConfig{Address: "10.99.0.1/24", DNSAddress: "10.99.0.5"},
		Upstream: &config.UpstreamConfig{
			Servers: []string{"10.99.0.5", "10.99.0.1:53", "192.0.2.53:5353"},
		},
	}

	servers, err := newDiscovery(cfg).Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(servers) != 1 || servers[0] != netip.MustParseAddrPort("192.0.2.53:5353") {
		t.Errorf("servers = %v", servers)
	}
}

func TestUpstreamFactory(t *testing.T) {
	factory := upstreamFactory(&config.Config{})
	servers := []netip.AddrPort{
		netip.MustParseAddrPort("192.0.2.53:53"),
		netip.MustParseAddrPort("198.51.100.53:53"),
	}

	exchanger, err := factory(servers)
	if err != nil {
		t.Fatalf("Expected forwarder, got error: %v", err)
	}
	fwd, ok := exchanger.(*upstream.Forwarder)
	if !ok {
		t.Fatalf("Expected *upstream.Forwarder, got %T", exchanger)
	}
	if fwd.Server() != servers[0] {
		t.Errorf("Server() = %s, want %s", fwd.Server(), servers[0])
	}

	exchanger, err = factory(nil)
	if err == nil {
		t.Error("Expected error without servers")
	}
	if exchanger != nil {
		t.Errorf("Expected nil exchanger on error, got %T", exchanger)
	}
}

func TestLoadAndValidateConfigOrFail(t *testing.T) {
	if _, err := loadAndValidateConfigOrFail(writeConfig(t, "[general]\nlists_output_dir = \"lists\"\n")); err == nil {
		t.Error("Expected validation error for config without lists")
	}
	if _, err := loadConfigOrFail(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Error("Expected error for missing config")
	}
}
