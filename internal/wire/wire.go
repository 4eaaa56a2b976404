// Package wire encodes and decodes the ICMP Echo Request/Reply payload that
// carries ping-loop data: a little-endian file ID followed by up to
// ChunkLength bytes of file data.
//
// Header and checksum framing is handled by golang.org/x/net/icmp and the
// kernel (IPv4 header assembly on send); this package only deals with the
// opaque bytes carried inside an icmp.Echo body.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// ChunkLength is the number of file bytes ("L" in the specification) carried
// by a single echo's payload, and therefore the size of one sequence.
const ChunkLength = 1024

// fileIDLength is the width of the file_id field prefixing every payload.
const fileIDLength = 4

// ErrNotEchoReply indicates a received ICMP message was not a usable Echo
// Reply and should be silently dropped by the caller.
var ErrNotEchoReply = errors.New("wire: not an echo reply")

// A Request is an outbound Echo Request carrying one file's sequence chunk.
type Request struct {
	LoopIndex int
	Seq       int
	FileID    uint32
	Payload   []byte
}

// Encode builds an *icmp.Message ready for IPv4Conn.WriteTo. The checksum
// and ICMP header are filled in by (*icmp.Message).Marshal; the IPv4 header
// is assembled by the kernel on send.
func Encode(req Request) *icmp.Message {
	body := make([]byte, fileIDLength+len(req.Payload))
	binary.LittleEndian.PutUint32(body, req.FileID)
	copy(body[fileIDLength:], req.Payload)

	return &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   req.LoopIndex,
			Seq:  req.Seq,
			Data: body,
		},
	}
}

// A Reply is a decoded Echo Reply carrying one file's sequence chunk.
type Reply struct {
	LoopIndex int
	Seq       int
	FileID    uint32
	Payload   []byte
}

// Decode extracts loop data from a received ICMP message. It returns
// ErrNotEchoReply if msg is not an Echo Reply, which callers should treat as
// a silent drop rather than a fatal error.
func Decode(msg *icmp.Message) (Reply, error) {
	if msg.Type != ipv4.ICMPTypeEchoReply {
		return Reply{}, ErrNotEchoReply
	}

	echo, ok := msg.Body.(*icmp.Echo)
	if !ok {
		return Reply{}, ErrNotEchoReply
	}

	if len(echo.Data) < fileIDLength {
		return Reply{}, fmt.Errorf("wire: echo reply body too short: %d bytes", len(echo.Data))
	}

	return Reply{
		LoopIndex: echo.ID,
		Seq:       echo.Seq,
		FileID:    binary.LittleEndian.Uint32(echo.Data[:fileIDLength]),
		Payload:   echo.Data[fileIDLength:],
	}, nil
}
