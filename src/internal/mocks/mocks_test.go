package mocks

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/maksimkurb/keen-dnsguard/src/internal/dnsmsg"
	"github.com/maksimkurb/keen-dnsguard/src/internal/packet"
)

func TestBuildQueryFrame_Decodes(t *testing.T) {
	frame, err := BuildQueryFrame(0x2a2a, "Ads.Example.com", dns.TypeA)
	if err != nil {
		t.Fatalf("BuildQueryFrame failed: %v", err)
	}

	f, err := packet.Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := f.Source().String(); got != "192.168.50.1:40123" {
		t.Errorf("Source() = %s", got)
	}

	q, err := dnsmsg.ParseQuery(f.Payload)
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	if q.ID != 0x2a2a || q.Domain() != "ads.example.com" {
		t.Errorf("Unexpected query %04x %s", q.ID, q.Domain())
	}
}

func TestReplyPayload(t *testing.T) {
	payload := []byte("payload")
	frame, err := BuildFrame(payload)
	if err != nil {
		t.Fatalf("BuildFrame failed: %v", err)
	}

	got, src, dst, err := ReplyPayload(frame)
	if err != nil {
		t.Fatalf("ReplyPayload failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q", got)
	}
	if src != "192.168.50.1:40123" || dst != "192.168.50.5:53" {
		t.Errorf("src=%s dst=%s", src, dst)
	}
}

func TestFrameRecorder_WaitFrames(t *testing.T) {
	r := NewFrameRecorder()
	go func() {
		r.Write([]byte{1})
		r.Write([]byte{2})
	}()

	frames, err := r.WaitFrames(2, time.Second)
	if err != nil {
		t.Fatalf("WaitFrames failed: %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("Expected 2 frames, got %d", len(frames))
	}

	if _, err := r.WaitFrames(3, 20*time.Millisecond); err == nil {
		t.Error("Expected timeout waiting for a third frame")
	}
}

func TestMockExchanger_DefaultAnswer(t *testing.T) {
	query, _ := PackQuery(7, "example.com", dns.TypeA)
	q, err := dnsmsg.ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}

	m := NewMockExchanger()
	reply, err := m.Exchange(context.Background(), q, query)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if err := dnsmsg.ValidateReply(q, reply); err != nil {
		t.Errorf("Default answer is not a valid reply: %v", err)
	}
	if m.Calls() != 1 {
		t.Errorf("Expected 1 call, got %d", m.Calls())
	}
}

func TestMockProvisioner(t *testing.T) {
	p := NewMockProvisioner()
	p.ProvisionFunc = func(ctx context.Context, attempt int) (*MockHandle, error) {
		if attempt == 0 {
			return nil, errors.New("no tun")
		}
		return nil, nil
	}

	if _, err := p.Provision(context.Background()); err == nil {
		t.Error("Expected first provision to fail")
	}
	h, err := p.Provision(context.Background())
	if err != nil {
		t.Fatalf("Second provision failed: %v", err)
	}
	defer h.Close()

	if h.Name() != "mock1" {
		t.Errorf("Name() = %s, want mock1", h.Name())
	}
	if p.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", p.Calls())
	}
}
