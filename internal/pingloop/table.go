package pingloop

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/noblewhale/pingdrive/internal/metrics"
)

// A Key identifies one outstanding echo by the composite identity the
// specification requires: which file, which redundant loop column, and
// which 1024-byte sequence of the file.
type Key struct {
	FileID    uint32
	LoopIndex int
	Seq       int
}

// entry tracks one outstanding echo's per-destination timers and whether it
// still needs a retransmit once the first reply arrives.
type entry struct {
	needsResend bool
	timers      map[netip.Addr]clockwork.Timer
}

// Table is the outstanding-reply table: every in-flight echo indexed by
// (file_id, loop_index, sequence_number), with a per-destination timer set
// and a "needs resend" flag. It is the single owner of that state; callers
// never reach into an entry directly.
type Table struct {
	mu      sync.Mutex
	entries map[Key]*entry

	clock   clockwork.Clock
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewTable constructs an empty Table. timeout is the per-destination
// deadline (1 second per the specification); clock lets tests drive that
// deadline deterministically via clockwork.NewFakeClock.
func NewTable(clock clockwork.Clock, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Table {
	return &Table{
		entries: make(map[Key]*entry),
		clock:   clock,
		timeout: timeout,
		log:     log,
		metrics: m,
	}
}

// Register allocates a new entry for key with one timer per destination,
// and invokes send once per destination while still holding the table
// lock, so the entry and its timers are published atomically together with
// the transmit attempt. The critical section is bounded by len(destinations),
// i.e. the number of configured address pools.
func (t *Table) Register(key Key, destinations []netip.Addr, send func(dst netip.Addr)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &entry{
		needsResend: true,
		timers:      make(map[netip.Addr]clockwork.Timer, len(destinations)),
	}
	t.entries[key] = e
	t.metrics.Outstanding.Set(float64(len(t.entries)))

	for _, dst := range destinations {
		dst := dst
		e.timers[dst] = t.clock.AfterFunc(t.timeout, func() { t.expire(key, dst) })
		send(dst)
	}
}

// MatchAndConsume locates the entry for key and accounts for a reply from
// source. found reports whether any entry existed at all; wasFirstReply
// reports whether this is the first reply observed for key (the caller
// should retransmit only when this is true); tableEmpty reports whether the
// entry was fully consumed and erased as a result.
//
// If source does not match any destination recorded against the entry, the
// reply is still consumed (found stays true, a prior needsResend value is
// still reported) but the condition is logged and counted as an anomaly,
// matching the specification's "report, don't crash" contract. Because
// destinations are held in a map keyed by address, two identical addresses
// contributed by different pools for the same loop index collapse into a
// single timer — the specification's ">1 matching destination" case cannot
// arise from this representation; "<1" (a missing destination) is the
// anomaly this method actually detects.
func (t *Table) MatchAndConsume(key Key, source netip.Addr) (found, wasFirstReply, tableEmpty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false, false, false
	}
	found = true

	if timer, ok := e.timers[source]; ok {
		timer.Stop()
		delete(e.timers, source)
	} else {
		t.metrics.AnomalousReplies.Inc()
		t.log.Warn("anomalous table state: reply source not in outstanding entry",
			"file_id", key.FileID, "loop_index", key.LoopIndex, "seq", key.Seq, "source", source)
	}

	wasFirstReply = e.needsResend
	e.needsResend = false

	if len(e.timers) == 0 {
		delete(t.entries, key)
		tableEmpty = true
		t.metrics.Outstanding.Set(float64(len(t.entries)))
	}

	return found, wasFirstReply, tableEmpty
}

// expire is the timer callback for one destination within one entry. It
// runs on the timer service goroutine (clockwork's fake or real timer
// driver), never on the network goroutine directly, but both converge on
// the same mutex so the two cannot race on entry state.
//
// If the destination has already been removed by MatchAndConsume — the
// timer fired concurrently with, or just after, a cancellation — this is a
// no-op: there is no error flag to check because clockwork.Timer.Stop only
// prevents a future fire, not one already in flight, so both outcomes must
// be handled by checking the map rather than an "was I cancelled" signal.
func (t *Table) expire(key Key, dst netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return
	}
	if _, ok := e.timers[dst]; !ok {
		return
	}
	delete(e.timers, dst)

	if len(e.timers) != 0 {
		return
	}

	delete(t.entries, key)
	t.metrics.Outstanding.Set(float64(len(t.entries)))

	if e.needsResend {
		t.metrics.DeadLoops.Inc()
		t.log.Warn("dead loop: every redundant destination timed out before any reply",
			"file_id", key.FileID, "loop_index", key.LoopIndex, "seq", key.Seq)
	}
}

// Drain cancels and erases every outstanding entry and its timers. It is
// called once during Engine.Stop; per the specification, pending
// filesystem-thread waiters are not affected and a clean shutdown requires
// the filesystem layer to already be idle.
func (t *Table) Drain() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, e := range t.entries {
		for _, timer := range e.timers {
			timer.Stop()
		}
		delete(t.entries, key)
	}
	t.metrics.Outstanding.Set(0)
}

// Len reports the number of outstanding entries, for tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}
