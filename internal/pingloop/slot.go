package pingloop

import (
	"context"
	"sync"

	"github.com/noblewhale/pingdrive/internal/wire"
)

// fulfillment describes the coordinates try_fulfill resolved a waiting slot
// against, returned to the filesystem-thread caller once wait unblocks.
type fulfillment struct {
	// Total is byte_index+n: the extent within the sequence this
	// fulfillment touched, from which the waiting caller counts the bytes
	// it wrote or read in this sequence.
	Total int
}

// slot is the pending-operation rendezvous shared by readSlot and writeSlot.
// Per the specification's own REDESIGN FLAGS recommendation, hand-off uses a
// buffered channel rather than a condition variable: prepare primes the
// coordinates, wait blocks the filesystem thread, and tryFulfill — called
// from the network thread on a matching reply — does the copy and wakes the
// waiter by sending on the channel, outside the lock.
type slot struct {
	mu      sync.Mutex
	pending bool
	fileID  uint32
	seq     int
	byteIdx int
	length  int
	buf     []byte

	done chan fulfillment
}

func newSlot() *slot {
	return &slot{done: make(chan fulfillment, 1)}
}

// preparedAt describes where within the file a prepared slot will land,
// handed back to the caller so it can decide whether a send is needed
// (write, when extending the file) or never is (read).
type preparedAt struct {
	Seq     int
	ByteIdx int
	Length  int
}

// prepare primes the slot for one sequence's worth of I/O at position,
// clamping length so the operation never crosses a sequence boundary. buf is
// the caller-owned byte slice the eventual fulfillment will read from
// (write) or write into (read); the slot only ever touches buf[:length].
func (s *slot) prepare(fileID uint32, position int64, length int, buf []byte) preparedAt {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := int(position / wire.ChunkLength)
	byteIdx := int(position % wire.ChunkLength)
	if max := wire.ChunkLength - byteIdx; length > max {
		length = max
	}

	s.fileID = fileID
	s.seq = seq
	s.byteIdx = byteIdx
	s.length = length
	s.buf = buf
	s.pending = false

	return preparedAt{Seq: seq, ByteIdx: byteIdx, Length: length}
}

// wait arms the slot as pending and blocks until tryFulfill wakes it or ctx
// is cancelled. A cancellation leaves the slot armed; a tryFulfill that
// races with it is still delivered correctly since the channel is buffered
// and nothing else drains it before the next prepare overwrites the fields.
func (s *slot) wait(ctx context.Context) (fulfillment, error) {
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()

	select {
	case f := <-s.done:
		return f, nil
	case <-ctx.Done():
		return fulfillment{}, ctx.Err()
	}
}

// matchLocked reports whether a reply for (fileID, seq) belongs to this slot and
// clears pending if so, returning the coordinates to copy against. It must
// be called with s.mu held.
func (s *slot) matchLocked(fileID uint32, seq int) (byteIdx, length int, ok bool) {
	if !s.pending || s.fileID != fileID || s.seq != seq {
		return 0, 0, false
	}
	s.pending = false
	return s.byteIdx, s.length, true
}

// writeSlot is the pending-write rendezvous: its buf holds bytes the caller
// wants written, and tryFulfill copies them into the network thread's
// retransmit payload.
type writeSlot struct{ slot }

func newWriteSlot() *writeSlot { return &writeSlot{slot: *newSlot()} }

// tryFulfill copies the prepared write bytes into payload at the slot's
// byte index and wakes the waiter. ok is false if no write is currently
// pending for (fileID, seq), in which case payload is untouched.
func (s *writeSlot) tryFulfill(fileID uint32, seq int, payload []byte) (total int, ok bool) {
	s.mu.Lock()
	byteIdx, length, matched := s.matchLocked(fileID, seq)
	if !matched {
		s.mu.Unlock()
		return 0, false
	}
	buf := s.buf
	s.mu.Unlock()

	n := copy(payload[byteIdx:], buf[:length])
	total = byteIdx + n

	s.done <- fulfillment{Total: total}
	return total, true
}

// readSlot is the pending-read rendezvous: its buf is the caller's
// destination, and tryFulfill copies bytes out of a received payload into
// it.
type readSlot struct{ slot }

func newReadSlot() *readSlot { return &readSlot{slot: *newSlot()} }

// tryFulfill copies payload's bytes at the slot's byte index into the
// prepared read buffer and wakes the waiter. ok is false if no read is
// currently pending for (fileID, seq).
func (s *readSlot) tryFulfill(fileID uint32, seq int, payload []byte) (total int, ok bool) {
	s.mu.Lock()
	byteIdx, length, matched := s.matchLocked(fileID, seq)
	if !matched {
		s.mu.Unlock()
		return 0, false
	}
	buf := s.buf
	s.mu.Unlock()

	n := copy(buf[:length], payload[byteIdx:])
	total = byteIdx + n

	s.done <- fulfillment{Total: total}
	return total, true
}
