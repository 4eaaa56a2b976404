package icmpx

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// bindSockaddr chooses an IPv4 bind address for the given interface.
func bindSockaddr(ifi *net.Interface) (unix.Sockaddr, netip.Addr, error) {
	// Strict mode allows in-kernel filtering of addresses for a given interface
	// index.
	rc, err := rtnetlink.Dial(&netlink.Config{Strict: true})
	if err != nil {
		return nil, netip.Addr{}, err
	}
	defer rc.Close()

	msgs, err := rc.Execute(
		&rtnetlink.AddressMessage{Index: uint32(ifi.Index)},
		unix.RTM_GETADDR,
		netlink.Request|netlink.Dump,
	)
	if err != nil {
		return nil, netip.Addr{}, err
	}

	// The returned messages always contain address data.
	ams := make([]*rtnetlink.AddressMessage, len(msgs))
	for i := range msgs {
		ams[i] = msgs[i].(*rtnetlink.AddressMessage)
	}

	return (&bindContext{ifi: ifi}).Select(ams)
}

// A bindContext manages shared state while selecting a socket bind address.
type bindContext struct {
	ifi *net.Interface
}

// Select chooses an appropriate IPv4 bind address based on rtnetlink address
// messages returned from the kernel.
func (bc *bindContext) Select(msgs []*rtnetlink.AddressMessage) (unix.Sockaddr, netip.Addr, error) {
	for _, m := range msgs {
		if m.Family != unix.AF_INET || m.Index != uint32(bc.ifi.Index) {
			continue
		}

		ip, ok := netip.AddrFromSlice(m.Attributes.Address)
		if !ok {
			continue
		}
		ip = ip.Unmap()

		// We assume there is a single valid IPv4 address which can reach any of
		// the necessary scopes.
		return toSockaddr(ip), ip, nil
	}

	return nil, netip.Addr{}, fmt.Errorf("no valid IPv4 bind address for %q", bc.ifi.Name)
}

// toSockaddr converts an IPv4 address into the equivalent unix.Sockaddr
// implementation.
func toSockaddr(ip netip.Addr) unix.Sockaddr {
	return &unix.SockaddrInet4{Addr: ip.As4()}
}

// fromSockaddr converts a unix.Sockaddr implementation into a netip.Addr.
func fromSockaddr(sa unix.Sockaddr) netip.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrFrom4(sa.Addr)
	default:
		panic("icmpx: unexpected non-IPv4 sockaddr")
	}
}
