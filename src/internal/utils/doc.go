// Package utils provides small helpers shared across keen-dnsguard.
//
//   - Path utilities: resolve list paths relative to the config directory
//   - File utilities: close with a logged warning
//   - Address utilities: convert net/netip values for netlink and net
//
// Path resolution:
//
//	absPath := utils.GetAbsolutePath("lists.d/ads.lst", "/opt/etc/keen-dnsguard")
//	// Returns: /opt/etc/keen-dnsguard/lists.d/ads.lst
package utils
