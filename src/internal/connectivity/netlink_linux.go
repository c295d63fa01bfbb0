//go:build linux

package connectivity

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
)

// NetlinkSource reads link and route notifications from the kernel.
type NetlinkSource struct{}

func NewNetlinkSource() *NetlinkSource {
	return &NetlinkSource{}
}

// Subscribe merges link and route subscriptions into one stream.
func (s *NetlinkSource) Subscribe(done <-chan struct{}) (<-chan Change, error) {
	// Closing stop ends both subscriptions when either one fails
	stop := make(chan struct{})
	onError := func(err error) {
		log.Warnf("Netlink subscription error: %v", err)
	}

	links := make(chan netlink.LinkUpdate, 16)
	if err := netlink.LinkSubscribeWithOptions(links, stop, netlink.LinkSubscribeOptions{ErrorCallback: onError}); err != nil {
		return nil, fmt.Errorf("failed to subscribe to link updates: %w", err)
	}

	routes := make(chan netlink.RouteUpdate, 16)
	if err := netlink.RouteSubscribeWithOptions(routes, stop, netlink.RouteSubscribeOptions{ErrorCallback: onError}); err != nil {
		close(stop)
		return nil, fmt.Errorf("failed to subscribe to route updates: %w", err)
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer close(stop)

		for {
			var change Change
			select {
			case <-done:
				return
			case u, ok := <-links:
				if !ok {
					return
				}
				change = Change{Kind: linkKind(u.Header.Type), LinkIndex: int(u.Index)}
				if u.Link != nil && u.Link.Attrs() != nil {
					change.LinkName = u.Link.Attrs().Name
				}
			case u, ok := <-routes:
				if !ok {
					return
				}
				change = Change{Kind: routeKind(u.Type), LinkIndex: u.LinkIndex}
				change.LinkName = linkName(u.LinkIndex)
			}

			select {
			case out <- change:
			case <-done:
				return
			}
		}
	}()

	return out, nil
}

// DefaultRoutes lists IPv4 default routes in the main table as "gw@link".
func (s *NetlinkSource) DefaultRoutes(ignore map[string]bool) ([]string, error) {
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, &netlink.Route{Table: unix.RT_TABLE_MAIN}, netlink.RT_FILTER_TABLE)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	var result []string
	for _, route := range routes {
		if route.Dst != nil {
			if ones, _ := route.Dst.Mask.Size(); ones != 0 {
				continue
			}
		}
		name := linkName(route.LinkIndex)
		if ignore[name] {
			continue
		}
		result = append(result, fmt.Sprintf("%s@%s", route.Gw, name))
	}
	return result, nil
}

func linkName(index int) string {
	if index == 0 {
		return ""
	}
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		// The link may already be gone
		return fmt.Sprintf("if%d", index)
	}
	return link.Attrs().Name
}

func linkKind(msgType uint16) string {
	if msgType == unix.RTM_DELLINK {
		return "link-del"
	}
	return "link"
}

func routeKind(msgType uint16) string {
	if msgType == unix.RTM_DELROUTE {
		return "route-del"
	}
	return "route"
}
