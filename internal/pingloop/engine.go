// Package pingloop implements the ping-loop storage engine: it turns file
// reads and writes into ICMP echoes kept continuously in flight against
// redundant pools of remote hosts, and reconstitutes file bytes from the
// echoes that come bouncing back.
package pingloop

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/noblewhale/pingdrive/internal/metrics"
	"github.com/noblewhale/pingdrive/internal/wire"
)

// DefaultTimeout is the per-destination reply deadline the specification
// names: after this long without a reply from a given destination, that
// destination's timer fires and the entry is charged against it.
const DefaultTimeout = time.Second

// Addresses supplies the redundant destination pools an Engine sends
// against. It is satisfied by *pool.Registry; tests can substitute a fixed
// fake.
type Addresses interface {
	Len() int
	Sample() int
	At(i, loopIndex int) netip.Addr
}

// Engine owns the outstanding-reply table, the single pending read and
// write slots, and the goroutine that drains the transport's inbound
// replies. One Engine serves one bound socket; the filesystem layer calls
// Write and Read directly, from whatever goroutine FUSE dispatches on.
type Engine struct {
	transport Transport
	addrs     Addresses
	table     *Table
	writeSlot *writeSlot
	readSlot  *readSlot
	log       *slog.Logger
	metrics   *metrics.Metrics

	eg     *errgroup.Group
	cancel context.CancelFunc
}

// NewEngine constructs an Engine around transport. clock and timeout drive
// the outstanding-reply table's per-destination deadlines; pass
// clockwork.NewRealClock() and DefaultTimeout in production, and a
// clockwork.NewFakeClock() in tests that need to force expiries
// deterministically.
func NewEngine(transport Transport, addrs Addresses, clock clockwork.Clock, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		transport: transport,
		addrs:     addrs,
		table:     NewTable(clock, timeout, log, m),
		writeSlot: newWriteSlot(),
		readSlot:  newReadSlot(),
		log:       log,
		metrics:   m,
	}
}

// Start launches the receive loop. It returns immediately; call Stop to
// unwind it.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	eg, ctx := errgroup.WithContext(ctx)
	e.eg = eg
	eg.Go(func() error { return e.receiveLoop(ctx) })
}

// Stop cancels the receive loop and waits for it to unwind, then drains the
// outstanding-reply table. Per the specification, this does not cancel any
// filesystem-thread caller currently blocked in Write or Read: a clean
// shutdown requires the filesystem layer to already be idle. Unlike the
// bare running flag the specification describes, cancelling ctx here
// reliably unblocks a socket read in flight too, because icmpx's ReadFrom is
// itself context-aware (see icmpx/conn_linux.go) — a small improvement this
// translation gets for free from Go's context-integrated socket I/O.
func (e *Engine) Stop() error {
	e.cancel()
	err := e.eg.Wait()
	e.table.Drain()
	return err
}

// receiveLoop drains the transport until ctx is cancelled or the transport
// reports a permanent error.
func (e *Engine) receiveLoop(ctx context.Context) error {
	for {
		reply, src, err := e.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, wire.ErrNotEchoReply) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			e.log.Debug("transient network error: receive failed", "err", err)
			continue
		}

		e.handleReply(reply, src)
	}
}

// handleReply is the network thread's per-datagram path: it offers the
// reply to the write slot and then the read slot, so a read pending on the
// same sequence sees the bytes just written, then consults the outstanding-reply table to decide
// whether this is the first reply for the sequence and a retransmit is
// owed.
func (e *Engine) handleReply(reply wire.Reply, src netip.Addr) {
	// A fixed full-chunk buffer, not just len(reply.Payload), so a write
	// slot can land bytes past the end of whatever was actually received
	// without bounds-checking against a short read near end-of-file.
	buf := make([]byte, wire.ChunkLength)
	recvLength := copy(buf, reply.Payload)

	writeTotal, wroteAny := e.writeSlot.tryFulfill(reply.FileID, reply.Seq, buf)
	e.readSlot.tryFulfill(reply.FileID, reply.Seq, buf)

	key := Key{FileID: reply.FileID, LoopIndex: reply.LoopIndex, Seq: reply.Seq}
	found, wasFirstReply, _ := e.table.MatchAndConsume(key, src)
	if !found {
		e.log.Debug("transient network error: reply for unknown entry",
			"file_id", reply.FileID, "loop_index", reply.LoopIndex, "seq", reply.Seq)
		return
	}
	if !wasFirstReply {
		return
	}

	length := recvLength
	if wroteAny && writeTotal > length {
		length = writeTotal
	}

	e.metrics.Retransmits.Inc()
	e.sendToLoopNodes(reply.FileID, reply.Seq, buf, length)
}

// sendToLoopNodes samples a fresh loop index and registers+transmits one
// echo per configured pool for (fileID, seq), carrying data[:length].
func (e *Engine) sendToLoopNodes(fileID uint32, seq int, data []byte, length int) {
	loopIndex := e.addrs.Sample()
	key := Key{FileID: fileID, LoopIndex: loopIndex, Seq: seq}

	destinations := make([]netip.Addr, e.addrs.Len())
	for i := range destinations {
		destinations[i] = e.addrs.At(i, loopIndex)
	}

	payload := append([]byte(nil), data[:length]...)

	e.table.Register(key, destinations, func(dst netip.Addr) {
		req := wire.Request{LoopIndex: loopIndex, Seq: seq, FileID: fileID, Payload: payload}
		if err := e.transport.Send(context.Background(), dst, req); err != nil {
			e.log.Debug("transient network error: send failed", "dst", dst, "err", err)
		}
	})
}

// Write copies data into the file identified by fileID starting at
// position. currentSize is the file's size before this write, used to
// decide whether a given sequence already has a loop running (so the write
// must ride an in-flight echo to land) or is being created fresh (so the
// write starts a brand new loop immediately).
func (e *Engine) Write(ctx context.Context, fileID uint32, position int64, data []byte, currentSize int64) (int, error) {
	written := 0
	for written < len(data) {
		pos := position + int64(written)
		chunk := data[written:]

		at := e.writeSlot.prepare(fileID, pos, len(chunk), chunk)

		if int64(at.Seq)*wire.ChunkLength >= currentSize {
			// This sequence has no loop running yet: start one now,
			// carrying the new bytes as its first payload.
			e.sendToLoopNodes(fileID, at.Seq, chunk[:at.Length], at.Length)
			if end := pos + int64(at.Length); end > currentSize {
				currentSize = end
			}
			written += at.Length
			continue
		}

		f, err := e.writeSlot.wait(ctx)
		if err != nil {
			return written, err
		}
		if end := pos - int64(at.ByteIdx) + int64(f.Total); end > currentSize {
			currentSize = end
		}
		written += f.Total - at.ByteIdx
	}

	return written, nil
}

// Read fills buf with file bytes starting at position. Every sequence
// touched must already have a loop running; Read never starts one.
func (e *Engine) Read(ctx context.Context, fileID uint32, position int64, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		pos := position + int64(read)
		dst := buf[read:]

		at := e.readSlot.prepare(fileID, pos, len(dst), dst)

		f, err := e.readSlot.wait(ctx)
		if err != nil {
			return read, err
		}

		read += f.Total - at.ByteIdx
	}

	return read, nil
}
