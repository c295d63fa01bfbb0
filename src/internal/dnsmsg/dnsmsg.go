// Package dnsmsg parses captured DNS queries and builds the synthetic answer
// returned for blocked names.
package dnsmsg

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
)

// BlockedTTL is the TTL of the synthetic answer for a blocked name.
const BlockedTTL = 10

// BlockedAddress is the address returned for blocked names.
var BlockedAddress = net.IPv4(127, 0, 0, 1).To4()

// Query is a single-question DNS query extracted from a frame.
type Query struct {
	ID     uint16
	Name   string // question name as sent, fully qualified
	Qtype  uint16
	Qclass uint16

	msg *dns.Msg
}

// ParseQuery unpacks a DNS message carrying exactly one question.
func ParseQuery(payload []byte) (*Query, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedFrame, "failed to unpack DNS message", err)
	}
	if msg.Response {
		return nil, errors.Malformed("[%04x] DNS message is a response, not a query", msg.Id)
	}
	if len(msg.Question) != 1 {
		return nil, errors.Malformed("[%04x] DNS query has %d questions, want 1", msg.Id, len(msg.Question))
	}

	q := msg.Question[0]
	return &Query{
		ID:     msg.Id,
		Name:   q.Name,
		Qtype:  q.Qtype,
		Qclass: q.Qclass,
		msg:    msg,
	}, nil
}

// Domain returns the question name lowercased and without the trailing dot.
func (q *Query) Domain() string {
	return NormalizeName(q.Name)
}

// String returns "name TYPE" for logging.
func (q *Query) String() string {
	return fmt.Sprintf("%s %s", q.Name, dns.TypeToString[q.Qtype])
}

// BuildBlockedReply answers the query locally with a single A record pointing
// at the loopback address. The header flags, id and question are copied from
// the query; no authority or additional records are added.
func BuildBlockedReply(q *Query) ([]byte, error) {
	question := q.msg.Question[0]

	reply := new(dns.Msg)
	reply.MsgHdr = q.msg.MsgHdr
	reply.Response = true
	reply.Question = []dns.Question{question}
	reply.Answer = []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{
				Name:   question.Name,
				Rrtype: dns.TypeA,
				Class:  question.Qclass,
				Ttl:    BlockedTTL,
			},
			A: BlockedAddress,
		},
	}

	wire, err := reply.Pack()
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("[%04x] failed to pack blocked reply", q.ID), err)
	}
	return wire, nil
}

// ValidateReply checks that an upstream answer is a well-formed DNS response
// to q. The payload itself is relayed unchanged by the caller.
func ValidateReply(q *Query, payload []byte) error {
	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		return errors.NewUpstreamError(fmt.Sprintf("[%04x] malformed upstream reply", q.ID), err)
	}
	if !msg.Response {
		return errors.NewUpstreamError(fmt.Sprintf("[%04x] upstream reply has no response flag", q.ID), nil)
	}
	if msg.Id != q.ID {
		return errors.NewUpstreamError(fmt.Sprintf("[%04x] upstream reply id mismatch: got %04x", q.ID, msg.Id), nil)
	}
	return nil
}

// NormalizeName lowercases a host name and strips one trailing dot.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
