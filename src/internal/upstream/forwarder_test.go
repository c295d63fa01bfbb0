package upstream

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/maksimkurb/keen-dnsguard/src/internal/dnsmsg"
	dnserrors "github.com/maksimkurb/keen-dnsguard/src/internal/errors"
)

// fakeUpstream answers every datagram with reply(query).
func fakeUpstream(t *testing.T, reply func(query []byte) []byte) netip.AddrPort {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 65535)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			if out := reply(append([]byte(nil), buf[:n]...)); out != nil {
				conn.WriteTo(out, addr)
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func packQuery(t *testing.T, name string) ([]byte, *dnsmsg.Query) {
	t.Helper()
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	wire, err := msg.Pack()
	if err != nil {
		t.Fatalf("Failed to pack query: %v", err)
	}
	q, err := dnsmsg.ParseQuery(wire)
	if err != nil {
		t.Fatalf("Failed to parse query: %v", err)
	}
	return wire, q
}

func answer(query []byte) []byte {
	msg := new(dns.Msg)
	if err := msg.Unpack(query); err != nil {
		return nil
	}
	reply := new(dns.Msg)
	reply.SetReply(msg)
	reply.Answer = append(reply.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: msg.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.IPv4(93, 184, 216, 34),
	})
	wire, _ := reply.Pack()
	return wire
}

func TestForwarder_RelaysReplyVerbatim(t *testing.T) {
	sentCh := make(chan []byte, 1)
	server := fakeUpstream(t, func(query []byte) []byte {
		out := answer(query)
		sentCh <- out
		return out
	})

	f, err := NewForwarder([]netip.AddrPort{server}, 2*time.Second, 0)
	if err != nil {
		t.Fatalf("NewForwarder failed: %v", err)
	}

	wire, q := packQuery(t, "example.com")
	reply, err := f.Exchange(context.Background(), q, wire)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	sent := <-sentCh
	if !bytes.Equal(reply, sent) {
		t.Errorf("Reply differs from upstream payload:\n got %x\nwant %x", reply, sent)
	}
}

func TestForwarder_UsesFirstServer(t *testing.T) {
	first := fakeUpstream(t, answer)
	second := fakeUpstream(t, func([]byte) []byte {
		t.Error("Second server must not be queried")
		return nil
	})

	f, err := NewForwarder([]netip.AddrPort{first, second}, time.Second, 0)
	if err != nil {
		t.Fatalf("NewForwarder failed: %v", err)
	}
	if f.Server() != first {
		t.Errorf("Server() = %s, want %s", f.Server(), first)
	}

	wire, q := packQuery(t, "example.com")
	if _, err := f.Exchange(context.Background(), q, wire); err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
}

func TestForwarder_MalformedReply(t *testing.T) {
	tests := []struct {
		name  string
		reply func([]byte) []byte
	}{
		{"garbage", func([]byte) []byte { return []byte{1, 2, 3} }},
		{"id mismatch", func(q []byte) []byte {
			out := answer(q)
			out[0] ^= 0xff
			return out
		}},
		{"not a response", func(q []byte) []byte { return q }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakeUpstream(t, tt.reply)
			f, _ := NewForwarder([]netip.AddrPort{server}, time.Second, 0)

			wire, q := packQuery(t, "example.com")
			_, err := f.Exchange(context.Background(), q, wire)
			if !errors.Is(err, dnserrors.ErrUpstreamIO) {
				t.Errorf("Expected ErrUpstreamIO, got %v", err)
			}
		})
	}
}

func TestForwarder_Timeout(t *testing.T) {
	server := fakeUpstream(t, func([]byte) []byte { return nil })
	f, _ := NewForwarder([]netip.AddrPort{server}, 100*time.Millisecond, 0)

	wire, q := packQuery(t, "stall.example.com")
	start := time.Now()
	_, err := f.Exchange(context.Background(), q, wire)
	if !errors.Is(err, dnserrors.ErrUpstreamIO) {
		t.Fatalf("Expected ErrUpstreamIO, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline in the error chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Timeout took %v", elapsed)
	}
}

func TestForwarder_CancelUnblocksUnboundedExchange(t *testing.T) {
	server := fakeUpstream(t, func([]byte) []byte { return nil })
	f, _ := NewForwarder([]netip.AddrPort{server}, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	wire, q := packQuery(t, "stall.example.com")
	go func() {
		_, err := f.Exchange(ctx, q, wire)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled in the error chain, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Cancellation did not close the upstream socket")
	}
}

func TestNewForwarder_NoServers(t *testing.T) {
	if _, err := NewForwarder(nil, time.Second, 0); !errors.Is(err, dnserrors.ErrUpstreamIO) {
		t.Errorf("Expected ErrUpstreamIO, got %v", err)
	}
}
