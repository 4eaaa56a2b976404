// Package icmpx binds a raw ICMPv4 socket on a chosen network interface and
// exposes a small, context-aware read/write API on top of it.
//
// It is trimmed from a general-purpose ICMPv4/6 socket library down to
// IPv4 only: the ping-loop storage engine has no use for ICMPv6, and
// carrying the extra address family only widens the surface a
// misconfigured address pool could hit.
package icmpx

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/icmp"
)

// A Conn allows reading and writing ICMPv4 messages on a bound interface.
type Conn interface {
	// Close closes the underlying socket.
	io.Closer

	// ReadFrom reads an ICMP message and returns the sender's IP address.
	ReadFrom(ctx context.Context) (*icmp.Message, netip.Addr, error)

	// WriteTo writes an ICMP message to a destination IP address.
	WriteTo(ctx context.Context, msg *icmp.Message, dst netip.Addr) error
}

// An IPv4Conn allows reading and writing ICMPv4 data on a network interface.
type IPv4Conn struct {
	// IP is the chosen IPv4 bind address for ICMPv4 communication.
	IP netip.Addr

	c   *conn
	ifi *net.Interface
	mu  sync.RWMutex
	b   []byte
}

// An IPv4Config configures an IPv4Conn.
type IPv4Config struct {
	// Filter applies an optional ICMPv4 filter to an IPv4Conn's underlying
	// socket before bind(2) is called, ensuring that no packets will be
	// received which do not match the filter.
	//
	// If nil, no ICMPv4 filter is applied.
	Filter *IPv4Filter
}

// ListenIPv4 binds an ICMPv4 socket on the specified network interface.
func ListenIPv4(ifi *net.Interface, cfg IPv4Config) (*IPv4Conn, error) { return listenIPv4(ifi, cfg) }

// Close closes the underlying socket.
func (c *IPv4Conn) Close() error { return c.c.Close() }

// WriteTo writes an ICMPv4 message to a destination IPv4 address.
func (c *IPv4Conn) WriteTo(ctx context.Context, msg *icmp.Message, dst netip.Addr) error {
	if !dst.Is4() {
		return errors.New("icmpx: destination must be an IPv4 address")
	}

	b, err := msg.Marshal(nil)
	if err != nil {
		return err
	}

	return c.sendto(ctx, b, dst)
}

// ReadFrom reads an ICMPv4 message and returns the sender's IPv4 address.
func (c *IPv4Conn) ReadFrom(ctx context.Context) (*icmp.Message, netip.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.recvfromLocked(ctx)
}
