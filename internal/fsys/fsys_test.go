package fsys_test

import (
	"testing"

	"github.com/noblewhale/pingdrive/internal/fsys"
)

func TestCreateAssignsDistinctFileIDs(t *testing.T) {
	tree := fsys.NewTree()

	a, err := tree.Create("/a.txt")
	if err != nil {
		t.Fatalf("Create(a) error = %v", err)
	}
	b, err := tree.Create("/b.txt")
	if err != nil {
		t.Fatalf("Create(b) error = %v", err)
	}

	if a.FileID() == 0 || b.FileID() == 0 {
		t.Fatalf("FileID() = %d, %d, want nonzero", a.FileID(), b.FileID())
	}
	if a.FileID() == b.FileID() {
		t.Fatalf("FileID() collision: both %d", a.FileID())
	}
}

func TestMkdirAndNestedCreate(t *testing.T) {
	tree := fsys.NewTree()

	if _, err := tree.Mkdir("/dir"); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if _, err := tree.Create("/dir/file.txt"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	n, err := tree.Lookup("/dir/file.txt")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if n.IsDir() {
		t.Fatalf("IsDir() = true, want false")
	}
}

func TestCreateUnderMissingParentFails(t *testing.T) {
	tree := fsys.NewTree()

	if _, err := tree.Create("/missing/file.txt"); err != fsys.ErrNotExist {
		t.Fatalf("Create() error = %v, want ErrNotExist", err)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	tree := fsys.NewTree()

	if _, err := tree.Create("/a.txt"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := tree.Create("/a.txt"); err != fsys.ErrExist {
		t.Fatalf("Create() error = %v, want ErrExist", err)
	}
}

func TestReaddirListsChildrenSorted(t *testing.T) {
	tree := fsys.NewTree()

	for _, name := range []string{"/c.txt", "/a.txt", "/b.txt"} {
		if _, err := tree.Create(name); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	entries, err := tree.Readdir("/")
	if err != nil {
		t.Fatalf("Readdir() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Readdir() returned %d entries, want 3", len(entries))
	}

	want := []string{"a.txt", "b.txt", "c.txt"}
	for i, e := range entries {
		if e.Name() != want[i] {
			t.Fatalf("entries[%d].Name() = %q, want %q", i, e.Name(), want[i])
		}
	}
}

func TestSetSizeUpdatesSizeAndModTime(t *testing.T) {
	tree := fsys.NewTree()

	n, err := tree.Create("/a.txt")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	before := n.ModTime()
	n.SetSize(42)

	if n.Size() != 42 {
		t.Fatalf("Size() = %d, want 42", n.Size())
	}
	if !n.ModTime().After(before) && n.ModTime() != before {
		t.Fatalf("ModTime() did not advance after SetSize")
	}
}
