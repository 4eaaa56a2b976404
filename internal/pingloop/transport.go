package pingloop

import (
	"context"
	"net/netip"

	"github.com/noblewhale/pingdrive/icmpx"
	"github.com/noblewhale/pingdrive/internal/wire"
)

// Transport is the network seam the engine drives: one outbound echo at a
// time, and one inbound reply at a time. Tests substitute a fake; production
// wires ICMPTransport over an icmpx.IPv4Conn.
type Transport interface {
	Send(ctx context.Context, dst netip.Addr, req wire.Request) error
	Receive(ctx context.Context) (wire.Reply, netip.Addr, error)
}

// ICMPTransport adapts an icmpx.IPv4Conn to Transport, encoding and decoding
// wire payloads at the boundary.
type ICMPTransport struct {
	conn *icmpx.IPv4Conn
}

// NewICMPTransport wraps an already-bound IPv4 raw ICMP socket.
func NewICMPTransport(conn *icmpx.IPv4Conn) *ICMPTransport {
	return &ICMPTransport{conn: conn}
}

// Send encodes req and writes it to dst.
func (t *ICMPTransport) Send(ctx context.Context, dst netip.Addr, req wire.Request) error {
	return t.conn.WriteTo(ctx, wire.Encode(req), dst)
}

// Receive blocks for the next datagram and decodes it. A non-echo-reply
// datagram is returned as wire.ErrNotEchoReply alongside its source, which
// the engine treats as a silent drop rather than a fatal error.
func (t *ICMPTransport) Receive(ctx context.Context) (wire.Reply, netip.Addr, error) {
	msg, src, err := t.conn.ReadFrom(ctx)
	if err != nil {
		return wire.Reply{}, netip.Addr{}, err
	}

	reply, err := wire.Decode(msg)
	if err != nil {
		return wire.Reply{}, src, err
	}

	return reply, src, nil
}
