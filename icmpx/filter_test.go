package icmpx_test

import (
	"testing"

	"github.com/noblewhale/pingdrive/icmpx"
	"golang.org/x/net/ipv4"
)

func TestIPv4Filter(t *testing.T) {
	f := icmpx.IPv4AllowOnly(ipv4.ICMPTypeEchoReply)

	if !f.WillBlock(ipv4.ICMPTypeEcho) {
		t.Fatalf("echo request should be blocked, but is not")
	}
	if f.WillBlock(ipv4.ICMPTypeEchoReply) {
		t.Fatalf("initial echo reply should not be blocked, but is")
	}

	f.Block(ipv4.ICMPTypeEchoReply)
	if !f.WillBlock(ipv4.ICMPTypeEchoReply) {
		t.Fatalf("final echo reply should be blocked, but is not")
	}
}
