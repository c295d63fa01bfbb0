package packet

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
)

const (
	// IPv4HeaderLen is the length of an IPv4 header without options.
	IPv4HeaderLen = 20
	// UDPHeaderLen is the length of a UDP header.
	UDPHeaderLen = 8
	// MinFrameLen is the shortest frame that can hold IPv4 and UDP headers.
	MinFrameLen = IPv4HeaderLen + UDPHeaderLen

	ipv4FlagMoreFragments = 0x2000
	ipv4FragOffsetMask    = 0x1fff
)

// Frame is a decoded IPv4/UDP datagram. Header fields and Payload reference
// the buffer passed to Decode, so the buffer must outlive the Frame.
type Frame struct {
	IP      layers.IPv4
	UDP     layers.UDP
	Payload []byte
}

// Source returns the sender address and port.
func (f *Frame) Source() netip.AddrPort {
	addr, _ := netip.AddrFromSlice(f.IP.SrcIP.To4())
	return netip.AddrPortFrom(addr, uint16(f.UDP.SrcPort))
}

// Destination returns the receiver address and port.
func (f *Frame) Destination() netip.AddrPort {
	addr, _ := netip.AddrFromSlice(f.IP.DstIP.To4())
	return netip.AddrPortFrom(addr, uint16(f.UDP.DstPort))
}

// Decode parses an IPv4/UDP frame. Declared lengths are checked against the
// buffer before any field is trusted; the payload is a sub-slice of frame.
func Decode(frame []byte) (*Frame, error) {
	if len(frame) < MinFrameLen {
		return nil, errors.Malformed("frame too short: %d bytes", len(frame))
	}
	if version := frame[0] >> 4; version != 4 {
		return nil, errors.Malformed("unsupported IP version %d", version)
	}
	if ihl := int(frame[0]&0x0f) * 4; ihl != IPv4HeaderLen {
		return nil, errors.Malformed("IPv4 options are not supported (header length %d)", ihl)
	}

	totalLen := int(binary.BigEndian.Uint16(frame[2:4]))
	if totalLen > len(frame) {
		return nil, errors.Malformed("IPv4 total length %d exceeds frame size %d", totalLen, len(frame))
	}
	if totalLen < MinFrameLen {
		return nil, errors.Malformed("IPv4 total length %d too small", totalLen)
	}

	fragment := binary.BigEndian.Uint16(frame[6:8])
	if fragment&ipv4FlagMoreFragments != 0 || fragment&ipv4FragOffsetMask != 0 {
		return nil, errors.Malformed("fragmented datagrams are not supported")
	}

	f := &Frame{}
	if err := f.IP.DecodeFromBytes(frame[:totalLen], gopacket.NilDecodeFeedback); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedFrame, "failed to decode IPv4 header", err)
	}
	if f.IP.Protocol != layers.IPProtocolUDP {
		return nil, errors.Malformed("unsupported IP protocol %s", f.IP.Protocol)
	}

	udpData := f.IP.Payload
	udpLen := int(binary.BigEndian.Uint16(udpData[4:6]))
	if udpLen < UDPHeaderLen || udpLen > len(udpData) {
		return nil, errors.Malformed("UDP length %d inconsistent with IPv4 payload %d", udpLen, len(udpData))
	}
	if err := f.UDP.DecodeFromBytes(udpData[:udpLen], gopacket.NilDecodeFeedback); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedFrame, "failed to decode UDP header", err)
	}
	f.Payload = f.UDP.Payload

	return f, nil
}

// EncodeReply builds the response frame for req carrying payload: addresses
// and ports are swapped, TOS, ID, flags and TTL are kept, and the IPv4 header
// checksum, UDP length and UDP checksum are recomputed.
func EncodeReply(req *Frame, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      IPv4HeaderLen / 4,
		TOS:      req.IP.TOS,
		Id:       req.IP.Id,
		Flags:    req.IP.Flags,
		TTL:      req.IP.TTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    req.IP.DstIP.To4(),
		DstIP:    req.IP.SrcIP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: req.UDP.DstPort,
		DstPort: req.UDP.SrcPort,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, errors.NewInternalError("failed to set checksum pseudo-header", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, errors.NewInternalError("failed to serialize reply frame", err)
	}

	out := buf.Bytes()
	// A computed checksum of zero is sent as all ones (RFC 768); zero means none.
	if out[26] == 0 && out[27] == 0 {
		out[26], out[27] = 0xff, 0xff
	}
	return out, nil
}
