package upstream

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	dnserrors "github.com/maksimkurb/keen-dnsguard/src/internal/errors"
)

var tunnelDNS = netip.MustParseAddr("192.168.50.5")

func writeResolvConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write resolv.conf: %v", err)
	}
	return path
}

// isolated ignores the systemd-resolved fallback so results do not depend
// on the host.
func isolated(d *Discovery, paths ...string) *Discovery {
	d.resolvConfs = paths
	return d
}

func TestDiscovery_StaticServers(t *testing.T) {
	d := NewDiscovery([]string{"9.9.9.9", "192.168.50.5", "1.1.1.1:5353"}, "/nonexistent", tunnelDNS)

	servers, err := d.Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	want := []netip.AddrPort{
		netip.MustParseAddrPort("9.9.9.9:53"),
		netip.MustParseAddrPort("1.1.1.1:5353"),
	}
	if !reflect.DeepEqual(servers, want) {
		t.Errorf("Discover() = %v, want %v", servers, want)
	}
}

func TestDiscovery_StaticInvalid(t *testing.T) {
	d := NewDiscovery([]string{"dns.google"}, "/nonexistent")
	if _, err := d.Discover(); !errors.Is(err, dnserrors.New(dnserrors.ErrCodeConfig, "")) {
		t.Errorf("Expected config error, got %v", err)
	}
}

func TestDiscovery_ResolvConf(t *testing.T) {
	path := writeResolvConf(t, `# generated
nameserver 10.0.0.1
nameserver 127.0.0.53
nameserver 192.168.50.5
nameserver 2001:4860:4860::8888
nameserver 8.8.8.8
search lan
`)

	servers, err := isolated(NewDiscovery(nil, path, tunnelDNS), path).Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	want := []netip.AddrPort{
		netip.MustParseAddrPort("10.0.0.1:53"),
		netip.MustParseAddrPort("8.8.8.8:53"),
	}
	if !reflect.DeepEqual(servers, want) {
		t.Errorf("Discover() = %v, want %v", servers, want)
	}
}

func TestDiscovery_FallsBackToSecondFile(t *testing.T) {
	stub := writeResolvConf(t, "nameserver 127.0.0.53\n")
	upstreamConf := writeResolvConf(t, "nameserver 10.1.1.1\n")

	servers, err := isolated(NewDiscovery(nil, stub), stub, upstreamConf).Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(servers) != 1 || servers[0] != netip.MustParseAddrPort("10.1.1.1:53") {
		t.Errorf("Discover() = %v, want [10.1.1.1:53]", servers)
	}
}

func TestDiscovery_NoUsableServers(t *testing.T) {
	path := writeResolvConf(t, "nameserver 127.0.0.53\n")

	_, err := isolated(NewDiscovery(nil, path), path).Discover()
	if !errors.Is(err, dnserrors.ErrUpstreamIO) {
		t.Errorf("Expected ErrUpstreamIO, got %v", err)
	}
}

func TestDiscovery_MissingResolvConf(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.conf")

	_, err := isolated(NewDiscovery(nil, missing), missing).Discover()
	if !errors.Is(err, dnserrors.ErrUpstreamIO) {
		t.Errorf("Expected ErrUpstreamIO, got %v", err)
	}
}

func TestNewDiscovery_AddsSystemdFallback(t *testing.T) {
	d := NewDiscovery(nil, "/etc/resolv.conf")
	if len(d.resolvConfs) != 2 || d.resolvConfs[1] != systemdResolvConf {
		t.Errorf("Expected systemd fallback, got %v", d.resolvConfs)
	}
}
