package mocks

import (
	"context"
	"net/netip"
	"sync/atomic"

	"github.com/maksimkurb/keen-dnsguard/src/internal/dnsmsg"
)

// MockExchanger is a fake upstream. Without ExchangeFunc it answers every
// query with an A record for 203.0.113.7.
type MockExchanger struct {
	// ExchangeFunc is called by Exchange if not nil
	ExchangeFunc func(ctx context.Context, q *dnsmsg.Query, payload []byte) ([]byte, error)

	calls atomic.Int64
}

func NewMockExchanger() *MockExchanger {
	return &MockExchanger{}
}

func (m *MockExchanger) Exchange(ctx context.Context, q *dnsmsg.Query, payload []byte) ([]byte, error) {
	m.calls.Add(1)
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, q, payload)
	}
	return PackAnswer(payload, "203.0.113.7", 300)
}

// Calls returns how many times Exchange was called.
func (m *MockExchanger) Calls() int {
	return int(m.calls.Load())
}

// MockDiscovery returns a fixed resolver set.
type MockDiscovery struct {
	Servers []netip.AddrPort
	Err     error

	calls atomic.Int64
}

func (m *MockDiscovery) Discover() ([]netip.AddrPort, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Servers, nil
}

// Calls returns how many times Discover was called.
func (m *MockDiscovery) Calls() int {
	return int(m.calls.Load())
}
