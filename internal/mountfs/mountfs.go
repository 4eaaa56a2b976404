// Package mountfs adapts the in-memory directory tree and the ping-loop
// engine into a FUSE filesystem via github.com/hanwen/go-fuse/v2. It holds
// no file data: every Read and Write is delegated straight to the engine,
// keyed by the fsys node's file_id, while names, sizes and timestamps come
// from the tree.
package mountfs

import (
	"context"
	"hash/fnv"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/noblewhale/pingdrive/internal/fsys"
	"github.com/noblewhale/pingdrive/internal/pingloop"
)

// Node is the FUSE-facing counterpart of one fsys.Node, identified by its
// full path from the tree root.
type Node struct {
	fs.Inode

	tree   *fsys.Tree
	engine *pingloop.Engine
	path   string
}

var (
	_ fs.InodeEmbedder = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
	_ fs.NodeReader    = (*Node)(nil)
	_ fs.NodeWriter    = (*Node)(nil)
)

// Mount starts serving tree and engine at mountpoint. The returned server's
// Wait method blocks until the filesystem is unmounted.
func Mount(mountpoint string, tree *fsys.Tree, engine *pingloop.Engine, opts *fs.Options) (*fuse.Server, error) {
	root := &Node{tree: tree, engine: engine, path: "/"}
	return fs.Mount(mountpoint, root, opts)
}

func errToErrno(err error) syscall.Errno {
	switch err {
	case nil:
		return 0
	case fsys.ErrNotExist:
		return syscall.ENOENT
	case fsys.ErrExist:
		return syscall.EEXIST
	case fsys.ErrNotDir:
		return syscall.ENOTDIR
	case fsys.ErrIsDir:
		return syscall.EISDIR
	default:
		return syscall.EIO
	}
}

func modeFor(fn *fsys.Node) uint32 {
	if fn.IsDir() {
		return syscall.S_IFDIR | 0755
	}
	return syscall.S_IFREG | 0777
}

// inoFor derives a stable inode number: a file's own file_id if it has one,
// otherwise an FNV hash of its path. FNV rather than a cryptographic hash
// is enough here since these numbers only need to be stable and collision-
// unlikely for kernel bookkeeping, not adversarially unguessable.
func inoFor(p string, fn *fsys.Node) uint64 {
	if id := fn.FileID(); id != 0 {
		return uint64(id)
	}
	h := fnv.New64a()
	h.Write([]byte(p))
	return h.Sum64()
}

func fillAttr(attr *fuse.Attr, fn *fsys.Node) {
	attr.Mode = modeFor(fn)
	attr.Size = uint64(fn.Size())
	attr.Owner = fuse.Owner{Uid: 33, Gid: 33}
	if fn.IsDir() {
		attr.Nlink = 2
	} else {
		attr.Nlink = 1
	}
	mtime := fn.ModTime()
	attr.SetTimes(nil, &mtime, nil)
}

// Getattr reports the node's current size and timestamps.
func (n *Node) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fn, err := n.tree.Lookup(n.path)
	if err != nil {
		return errToErrno(err)
	}
	fillAttr(&out.Attr, fn)
	return 0
}

// Setattr reports the node's current attributes without mutating state.
// truncate (and chmod/chown, which the tree has no fields for at all) are
// unsupported operations per the filesystem's design: they return success
// without changing the tracked size, permissions, or anything else.
func (n *Node) Setattr(_ context.Context, _ fs.FileHandle, _ *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	fn, err := n.tree.Lookup(n.path)
	if err != nil {
		return errToErrno(err)
	}

	fillAttr(&out.Attr, fn)
	return 0
}

// Lookup resolves one path component under this directory.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.path, name)

	fn, err := n.tree.Lookup(childPath)
	if err != nil {
		return nil, errToErrno(err)
	}

	fillAttr(&out.Attr, fn)
	child := &Node{tree: n.tree, engine: n.engine, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: modeFor(fn), Ino: inoFor(childPath, fn)}), 0
}

// Readdir lists this directory's children.
func (n *Node) Readdir(_ context.Context) (fs.DirStream, syscall.Errno) {
	children, err := n.tree.Readdir(n.path)
	if err != nil {
		return nil, errToErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		childPath := path.Join(n.path, c.Name())
		entries = append(entries, fuse.DirEntry{
			Name: c.Name(),
			Mode: modeFor(c),
			Ino:  inoFor(childPath, c),
		})
	}

	return fs.NewListDirStream(entries), 0
}

// Mkdir creates an empty subdirectory.
func (n *Node) Mkdir(ctx context.Context, name string, _ uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.path, name)

	fn, err := n.tree.Mkdir(childPath)
	if err != nil {
		return nil, errToErrno(err)
	}

	fillAttr(&out.Attr, fn)
	child := &Node{tree: n.tree, engine: n.engine, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: modeFor(fn), Ino: inoFor(childPath, fn)}), 0
}

// Create makes a new, empty file and assigns it a file_id; no loop exists
// for it until the first write.
func (n *Node) Create(ctx context.Context, name string, _ uint32, _ uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := path.Join(n.path, name)

	fn, err := n.tree.Create(childPath)
	if err != nil {
		return nil, nil, 0, errToErrno(err)
	}

	fillAttr(&out.Attr, fn)
	child := &Node{tree: n.tree, engine: n.engine, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: modeFor(fn), Ino: inoFor(childPath, fn)})
	return inode, nil, fuse.FOPEN_DIRECT_IO, 0
}

// Unlink is an unsupported operation: it reports success without removing
// anything from the tree.
func (n *Node) Unlink(_ context.Context, _ string) syscall.Errno {
	return 0
}

// Rmdir is an unsupported operation: it reports success without removing
// anything from the tree.
func (n *Node) Rmdir(_ context.Context, _ string) syscall.Errno {
	return 0
}

// Rename is an unsupported operation: it reports success without moving
// anything in the tree.
func (n *Node) Rename(_ context.Context, _ string, _ fs.InodeEmbedder, _ string, _ uint32) syscall.Errno {
	return 0
}

// Open declines kernel page caching: file contents are reconstructed from
// whatever the engine currently has in flight, not a stable backing store,
// mirroring the original drive's cfg->kernel_cache = 0 at mount init.
func (n *Node) Open(_ context.Context, _ uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if _, err := n.tree.Lookup(n.path); err != nil {
		return nil, 0, errToErrno(err)
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

// Read clamps the request to the file's tracked size and asks the engine
// to reconstruct the requested range from its ping loops.
func (n *Node) Read(ctx context.Context, _ fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fn, err := n.tree.Lookup(n.path)
	if err != nil {
		return nil, errToErrno(err)
	}

	size := fn.Size()
	if off >= size {
		return fuse.ReadResultData(nil), 0
	}
	if off+int64(len(dest)) > size {
		dest = dest[:size-off]
	}

	total, err := n.engine.Read(ctx, fn.FileID(), off, dest)
	if err != nil {
		return nil, syscall.EIO
	}

	return fuse.ReadResultData(dest[:total]), 0
}

// Write hands data to the engine, which either starts a fresh loop for any
// sequence beyond the file's current size or rides an existing one, then
// updates the tracked size if the write extended the file.
func (n *Node) Write(ctx context.Context, _ fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	fn, err := n.tree.Lookup(n.path)
	if err != nil {
		return 0, errToErrno(err)
	}

	written, err := n.engine.Write(ctx, fn.FileID(), off, data, fn.Size())
	if err != nil {
		return 0, syscall.EIO
	}

	if newSize := off + int64(written); newSize > fn.Size() {
		fn.SetSize(newSize)
	} else {
		fn.Touch()
	}

	return uint32(written), 0
}
