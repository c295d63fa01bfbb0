//go:build linux

package tunnel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
	"github.com/maksimkurb/keen-dnsguard/src/internal/utils"
)

const tunCloneDevice = "/dev/net/tun"

// LinuxProvisioner creates a TUN device per session.
type LinuxProvisioner struct {
	opts Options
}

func NewLinuxProvisioner(opts Options) *LinuxProvisioner {
	return &LinuxProvisioner{opts: opts}
}

// Provision opens the TUN device, configures its address and routes and
// installs the capture rules. On failure everything created so far is
// released and a TUNNEL_CONFIG_ERROR is returned.
func (p *LinuxProvisioner) Provision(ctx context.Context) (Handle, error) {
	file, name, err := openTun(p.opts.Name)
	if err != nil {
		return nil, errors.NewTunnelError("failed to open TUN device", err)
	}

	dev := &device{file: file, name: name}
	if err := p.configure(ctx, dev); err != nil {
		if cerr := dev.Close(); cerr != nil {
			log.Warnf("Failed to release TUN device %s: %v", name, cerr)
		}
		return nil, errors.NewTunnelError(fmt.Sprintf("failed to configure %s", name), err)
	}

	log.Infof("Tunnel %s is up: address=%s dns=%s routes=%v", name, p.opts.Address, p.opts.DNSAddress, p.opts.Routes)
	return dev, nil
}

func (p *LinuxProvisioner) configure(ctx context.Context, dev *device) error {
	link, err := netlink.LinkByName(dev.name)
	if err != nil {
		return fmt.Errorf("failed to find link: %w", err)
	}

	if p.opts.MTU > 0 {
		if err := netlink.LinkSetMTU(link, p.opts.MTU); err != nil {
			return fmt.Errorf("failed to set MTU %d: %w", p.opts.MTU, err)
		}
	}

	addr := &netlink.Addr{IPNet: utils.PrefixToIPNet(p.opts.Address)}
	log.Debugf("Adding address %s to %s", p.opts.Address, dev.name)
	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("failed to add address %s: %w", p.opts.Address, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring link up: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	for _, prefix := range p.opts.Routes {
		route := &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Dst:       utils.PrefixToIPNet(prefix.Masked()),
			Scope:     netlink.SCOPE_LINK,
		}
		log.Debugf("Adding route %s dev %s", prefix.Masked(), dev.name)
		if err := netlink.RouteReplace(route); err != nil {
			return fmt.Errorf("failed to add route %s: %w", prefix, err)
		}
	}

	// Replies from the tunnel carry the tunnel DNS address as source
	if err := writeSysctl(dev.name, "rp_filter", "0"); err != nil {
		log.Warnf("Failed to relax rp_filter on %s: %v", dev.name, err)
	}

	if !p.opts.CaptureDNS {
		return nil
	}

	opts := p.opts
	opts.Name = dev.name
	capture, err := NewCaptureRules(opts)
	if err != nil {
		return err
	}
	// Assign before Apply so a partial install is cleaned up on Close
	dev.capture = capture
	if err := capture.Apply(); err != nil {
		return fmt.Errorf("failed to install DNS capture rules: %w", err)
	}

	return nil
}

// openTun creates a TUN interface without packet information headers, so
// every read and write carries exactly one raw IPv4 frame.
func openTun(name string) (*os.File, string, error) {
	fd, err := unix.Open(tunCloneDevice, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", tunCloneDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, "", fmt.Errorf("invalid interface name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, "", fmt.Errorf("TUNSETIFF %s failed: %w", name, err)
	}

	return os.NewFile(uintptr(fd), tunCloneDevice), ifr.Name(), nil
}

func writeSysctl(iface, key, value string) error {
	path := filepath.Join("/proc/sys/net/ipv4/conf", iface, key)
	return os.WriteFile(path, []byte(value), 0644)
}

// device is a provisioned TUN interface. Closing the descriptor removes the
// interface together with its addresses and routes.
type device struct {
	file    *os.File
	name    string
	capture *CaptureRules
}

func (d *device) Name() string {
	return d.name
}

func (d *device) SyscallConn() (syscall.RawConn, error) {
	return d.file.SyscallConn()
}

func (d *device) Write(frame []byte) (int, error) {
	return d.file.Write(frame)
}

func (d *device) Close() error {
	if d.capture != nil {
		if err := d.capture.Remove(); err != nil {
			log.Warnf("Failed to remove DNS capture rules: %v", err)
		}
	}
	log.Debugf("Closing tunnel %s", d.name)
	return d.file.Close()
}
