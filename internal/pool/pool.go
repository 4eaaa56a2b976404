// Package pool holds the parallel address lists used to fan redundant echo
// requests out across multiple destinations per loop index.
package pool

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"net/netip"
)

// A Registry holds N parallel lists of IPv4 addresses, one per configured
// pool. Once populated, Sample draws a "loop index" uniformly over
// [0, min(|list|)-1], which every list must then be indexable at.
type Registry struct {
	lists    [][]netip.Addr
	smallest int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{smallest: -1} }

// AddList parses one IPv4 address per whitespace-separated token from r and
// appends it as a new pool. An empty list or an unparsable token is a hard
// startup error; there is no fallback.
func (r *Registry) AddList(src io.Reader) error {
	var list []netip.Addr

	sc := bufio.NewScanner(src)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		addr, err := netip.ParseAddr(sc.Text())
		if err != nil {
			return fmt.Errorf("pool: invalid address %q: %w", sc.Text(), err)
		}
		if !addr.Is4() {
			return fmt.Errorf("pool: address %q is not IPv4", sc.Text())
		}

		list = append(list, addr)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("pool: reading address list: %w", err)
	}
	if len(list) == 0 {
		return fmt.Errorf("pool: address list is empty")
	}

	r.lists = append(r.lists, list)
	if r.smallest < 0 || len(list) < r.smallest {
		r.smallest = len(list)
	}

	return nil
}

// Len reports the number of configured pools.
func (r *Registry) Len() int { return len(r.lists) }

// Smallest reports the length of the shortest configured pool, i.e. the
// exclusive upper bound on any loop index Sample can produce or At can
// accept. It returns 0 if no pool has been added.
func (r *Registry) Smallest() int {
	if r.smallest < 0 {
		return 0
	}
	return r.smallest
}

// Sample draws a loop index uniformly from [0, min(|list|)-1] across all
// configured pools. It panics if no pool has been added, matching the
// source's expectation that sampling never begins before startup
// configuration completes.
func (r *Registry) Sample() int {
	if r.smallest <= 0 {
		panic("pool: Sample called with no non-empty pools configured")
	}

	return rand.Intn(r.smallest)
}

// At returns the address at loopIndex within pool i. The caller must ensure
// 0 <= loopIndex < min(|list|), which Sample guarantees for indexes it
// produces.
func (r *Registry) At(i, loopIndex int) netip.Addr {
	return r.lists[i][loopIndex]
}
