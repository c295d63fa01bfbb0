// Package mocks provides fakes and frame builders for testing.
//
// This package should ONLY be imported in test files (_test.go).
package mocks

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
)

// Addresses used by BuildQueryFrame.
var (
	ClientIP   = net.IPv4(192, 168, 50, 1).To4()
	ClientPort = uint16(40123)
	TunnelDNS  = net.IPv4(192, 168, 50, 5).To4()
)

// PackQuery builds a recursive single-question DNS query.
func PackQuery(id uint16, name string, qtype uint16) ([]byte, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.Id = id
	return msg.Pack()
}

// PackAnswer builds an upstream-style reply to query with one A record.
func PackAnswer(query []byte, ip string, ttl uint32) ([]byte, error) {
	req := new(dns.Msg)
	if err := req.Unpack(query); err != nil {
		return nil, fmt.Errorf("failed to unpack query: %w", err)
	}
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   net.ParseIP(ip).To4(),
	}}
	return reply.Pack()
}

// BuildFrame wraps payload into an IPv4/UDP datagram sent from the client to
// the tunnel DNS address.
func BuildFrame(payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       0x1234,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    ClientIP,
		DstIP:    TunnelDNS,
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(ClientPort), DstPort: 53}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// BuildQueryFrame is PackQuery followed by BuildFrame.
func BuildQueryFrame(id uint16, name string, qtype uint16) ([]byte, error) {
	payload, err := PackQuery(id, name, qtype)
	if err != nil {
		return nil, err
	}
	return BuildFrame(payload)
}

// ReplyPayload extracts the UDP payload of a reply frame together with its
// source and destination, as "ip:port".
func ReplyPayload(frame []byte) (payload []byte, src, dst string, err error) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeIPv4, gopacket.Default)
	ipLayer, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return nil, "", "", fmt.Errorf("frame has no IPv4 layer")
	}
	udpLayer, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil, "", "", fmt.Errorf("frame has no UDP layer")
	}
	src = fmt.Sprintf("%s:%d", ipLayer.SrcIP, udpLayer.SrcPort)
	dst = fmt.Sprintf("%s:%d", ipLayer.DstIP, udpLayer.DstPort)
	return udpLayer.Payload, src, dst, nil
}
