package pool_test

import (
	"strings"
	"testing"

	"github.com/noblewhale/pingdrive/internal/pool"
)

func TestAddListAndSample(t *testing.T) {
	r := pool.NewRegistry()

	if err := r.AddList(strings.NewReader("127.0.0.1 127.0.0.2 127.0.0.3")); err != nil {
		t.Fatalf("AddList() error = %v", err)
	}
	if err := r.AddList(strings.NewReader("10.0.0.1 10.0.0.2")); err != nil {
		t.Fatalf("AddList() error = %v", err)
	}

	if got, want := r.Len(), 2; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	// The smallest list has 2 entries, so sampling must stay within [0, 1]
	// regardless of which list is larger.
	for i := 0; i < 100; i++ {
		idx := r.Sample()
		if idx < 0 || idx > 1 {
			t.Fatalf("Sample() = %d, want in [0, 1]", idx)
		}

		// Every configured pool must be indexable at the sampled index.
		_ = r.At(0, idx)
		_ = r.At(1, idx)
	}
}

func TestAddListRejectsEmpty(t *testing.T) {
	r := pool.NewRegistry()

	if err := r.AddList(strings.NewReader("   \n\t")); err == nil {
		t.Fatalf("AddList() error = nil, want error for empty list")
	}
}

func TestAddListRejectsUnparsable(t *testing.T) {
	r := pool.NewRegistry()

	if err := r.AddList(strings.NewReader("not-an-address")); err == nil {
		t.Fatalf("AddList() error = nil, want error for unparsable token")
	}
}

func TestAddListRejectsIPv6(t *testing.T) {
	r := pool.NewRegistry()

	if err := r.AddList(strings.NewReader("::1")); err == nil {
		t.Fatalf("AddList() error = nil, want error for IPv6 address")
	}
}
