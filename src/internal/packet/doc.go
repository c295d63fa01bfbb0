// Package packet decodes and encodes the IPv4+UDP framing of datagrams read
// from and written to the TUN device.
//
// Only plain datagrams are accepted: IPv4 without options, not fragmented,
// carrying UDP. Anything else is rejected with errors.ErrMalformedFrame so
// that the caller can drop it without replying.
package packet
