// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shardfs.
//
// go-shardfs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


package fuse

import (
	"context"
	"io/fs"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage/file"
)

// renameNoReplace is RENAME_NOREPLACE from renameat2(2).
const renameNoReplace = 0x1

// hidden reports whether name in the directory at parent is internal to the
// storepoint and must not show through the mount.
func hidden(parent, name string) bool {
	if parent == "" && name == shard.DirName {
		return true
	}
	return strings.HasPrefix(name, file.TempPrefix)
}

// relPath returns the mount-relative path of name inside n.
func relPath(n *gofuse.Inode, name string) string {
	return path.Join(n.Path(n.Root()), name)
}

// newChild builds the inode for a backing entry. Only directories and
// regular files are exposed.
func (f *filesystem) newChild(ctx context.Context, parent *gofuse.Inode, st *syscall.Stat_t) *gofuse.Inode {
	switch uint32(st.Mode) & syscall.S_IFMT {
	case syscall.S_IFDIR:
		return parent.NewInode(ctx, &dirNode{fs: f}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
	case syscall.S_IFREG:
		return parent.NewInode(ctx, &fileNode{fs: f}, gofuse.StableAttr{Mode: syscall.S_IFREG})
	default:
		return nil
	}
}

// fill loads the attributes of rel into out. Regular file sizes come from
// the engine since the backing entry only holds the header. A file whose
// size cannot be determined is reported empty so it can still be unlinked;
// reading it fails.
func (f *filesystem) fill(rel string, out *fuse.Attr) syscall.Errno {
	var st syscall.Stat_t
	if err := syscall.Lstat(f.backing(rel), &st); err != nil {
		return gofuse.ToErrno(err)
	}
	out.FromStat(&st)
	if uint32(st.Mode)&syscall.S_IFMT != syscall.S_IFREG {
		return 0
	}
	out.Size, out.Blocks = 0, 0
	size, err := f.engine.Size(rel)
	if err != nil {
		f.logger.Warn("failed to determine file size", "path", rel, "error", err)
		return 0
	}
	out.Size = uint64(size)
	out.Blocks = (out.Size + 511) / 512
	return 0
}

// setattr applies the passthrough part of a setattr request.
func (f *filesystem) setattr(rel string, in *fuse.SetAttrIn) syscall.Errno {
	p := f.backing(rel)
	if mode, ok := in.GetMode(); ok {
		if err := os.Chmod(p, fs.FileMode(mode).Perm()); err != nil {
			return gofuse.ToErrno(err)
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		u, g := -1, -1
		if uok {
			u = int(uid)
		}
		if gok {
			g = int(gid)
		}
		if err := os.Lchown(p, u, g); err != nil {
			return gofuse.ToErrno(err)
		}
	}

	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		if !aok || !mok {
			info, err := os.Stat(p)
			if err != nil {
				return gofuse.ToErrno(err)
			}
			if !aok {
				atime = time.Now()
			}
			if !mok {
				mtime = info.ModTime()
			}
		}
		if err := os.Chtimes(p, atime, mtime); err != nil {
			return gofuse.ToErrno(err)
		}
	}
	return 0
}

// errno converts err, logging the failures the kernel only sees as EIO.
func (f *filesystem) errno(op, rel string, err error) syscall.Errno {
	errno := toErrno(err)
	if errno == syscall.EIO || errno == syscall.EHOSTUNREACH {
		f.logger.Error("file operation failed", "op", op, "path", rel, "error", err)
	}
	return errno
}

// dirNode is a directory of the storepoint.
type dirNode struct {
	gofuse.Inode
	fs *filesystem
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)
var _ gofuse.NodeSetattrer = (*dirNode)(nil)
var _ gofuse.NodeMkdirer = (*dirNode)(nil)
var _ gofuse.NodeRmdirer = (*dirNode)(nil)
var _ gofuse.NodeCreater = (*dirNode)(nil)
var _ gofuse.NodeUnlinker = (*dirNode)(nil)
var _ gofuse.NodeRenamer = (*dirNode)(nil)
var _ gofuse.NodeStatfser = (*dirNode)(nil)

func (d *dirNode) rel() string {
	return d.Path(d.Root())
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	if hidden(d.rel(), name) {
		return nil, syscall.ENOENT
	}
	rel := relPath(&d.Inode, name)

	var st syscall.Stat_t
	if err := syscall.Lstat(d.fs.backing(rel), &st); err != nil {
		return nil, gofuse.ToErrno(err)
	}
	child := d.fs.newChild(ctx, &d.Inode, &st)
	if child == nil {
		return nil, syscall.ENOENT
	}
	if errno := d.fs.fill(rel, &out.Attr); errno != 0 {
		return nil, errno
	}
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	parent := d.rel()
	dirEntries, err := os.ReadDir(d.fs.backing(parent))
	if err != nil {
		return nil, gofuse.ToErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if hidden(parent, entry.Name()) {
			continue
		}
		var mode uint32
		switch {
		case entry.IsDir():
			mode = syscall.S_IFDIR
		case entry.Type().IsRegular():
			mode = syscall.S_IFREG
		default:
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: entry.Name(), Mode: mode})
	}
	return &sliceDirStream{entries: entries}, 0
}

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return d.fs.fill(d.rel(), &out.Attr)
}

func (d *dirNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	rel := d.rel()
	if errno := d.fs.setattr(rel, in); errno != 0 {
		return errno
	}
	return d.fs.fill(rel, &out.Attr)
}

func (d *dirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	if hidden(d.rel(), name) {
		return nil, syscall.EPERM
	}
	rel := relPath(&d.Inode, name)
	if err := os.Mkdir(d.fs.backing(rel), fs.FileMode(mode).Perm()); err != nil {
		return nil, gofuse.ToErrno(err)
	}
	if errno := d.fs.fill(rel, &out.Attr); errno != 0 {
		return nil, errno
	}
	return d.NewInode(ctx, &dirNode{fs: d.fs}, gofuse.StableAttr{Mode: syscall.S_IFDIR}), 0
}

func (d *dirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if hidden(d.rel(), name) {
		return syscall.EPERM
	}
	return gofuse.ToErrno(syscall.Rmdir(d.fs.backing(relPath(&d.Inode, name))))
}

func (d *dirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	if hidden(d.rel(), name) {
		return nil, nil, 0, syscall.EPERM
	}
	rel := relPath(&d.Inode, name)
	if flags&syscall.O_EXCL != 0 {
		if _, err := os.Lstat(d.fs.backing(rel)); err == nil {
			return nil, nil, 0, syscall.EEXIST
		}
	}
	if err := d.fs.engine.Create(rel, fs.FileMode(mode).Perm()); err != nil {
		return nil, nil, 0, d.fs.errno("create", rel, err)
	}
	if errno := d.fs.fill(rel, &out.Attr); errno != 0 {
		return nil, nil, 0, errno
	}
	child := d.NewInode(ctx, &fileNode{fs: d.fs}, gofuse.StableAttr{Mode: syscall.S_IFREG})
	return child, nil, 0, 0
}

func (d *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if hidden(d.rel(), name) {
		return syscall.EPERM
	}
	rel := relPath(&d.Inode, name)
	if err := d.fs.engine.Unlink(rel); err != nil {
		return d.fs.errno("unlink", rel, err)
	}
	return 0
}

func (d *dirNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target := newParent.EmbeddedInode()
	if hidden(d.rel(), name) || hidden(target.Path(target.Root()), newName) {
		return syscall.EPERM
	}
	if flags&^renameNoReplace != 0 {
		return syscall.ENOTSUP
	}

	oldRel := relPath(&d.Inode, name)
	newRel := relPath(target, newName)
	if flags&renameNoReplace != 0 {
		if _, err := os.Lstat(d.fs.backing(newRel)); err == nil {
			return syscall.EEXIST
		}
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(d.fs.backing(oldRel), &st); err != nil {
		return gofuse.ToErrno(err)
	}
	if uint32(st.Mode)&syscall.S_IFMT == syscall.S_IFDIR {
		// Shard names do not depend on paths, so whole trees move as is.
		return gofuse.ToErrno(os.Rename(d.fs.backing(oldRel), d.fs.backing(newRel)))
	}
	if info, err := os.Lstat(d.fs.backing(newRel)); err == nil && info.IsDir() {
		return syscall.EISDIR
	}
	if err := d.fs.engine.Rename(oldRel, newRel); err != nil {
		return d.fs.errno("rename", oldRel, err)
	}
	return 0
}

func (d *dirNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	var st syscall.Statfs_t
	if err := syscall.Statfs(d.fs.storepoint, &st); err != nil {
		return gofuse.ToErrno(err)
	}
	out.FromStatfsT(&st)
	return 0
}

// fileNode is a regular file whose content lives in a shard group. No file
// handles are issued; every request goes to the engine by path.
type fileNode struct {
	gofuse.Inode
	fs *filesystem
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)
var _ gofuse.NodeWriter = (*fileNode)(nil)
var _ gofuse.NodeFlusher = (*fileNode)(nil)
var _ gofuse.NodeFsyncer = (*fileNode)(nil)
var _ gofuse.NodeReleaser = (*fileNode)(nil)

func (n *fileNode) rel() string {
	return n.Path(n.Root())
}

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return n.fs.fill(n.rel(), &out.Attr)
}

func (n *fileNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	rel := n.rel()
	if size, ok := in.GetSize(); ok {
		if errno := n.truncate(rel, size); errno != 0 {
			return errno
		}
	}
	if errno := n.fs.setattr(rel, in); errno != 0 {
		return errno
	}
	return n.fs.fill(rel, &out.Attr)
}

// truncate forwards a size change. Setting the current size is accepted as
// a no-op; anything else but zero is unsupported by the engine.
func (n *fileNode) truncate(rel string, size uint64) syscall.Errno {
	if size > 0 {
		current, err := n.fs.engine.Size(rel)
		if err != nil {
			return n.fs.errno("truncate", rel, err)
		}
		if uint64(current) == size {
			return 0
		}
	}
	if err := n.fs.engine.Truncate(rel, int64(size)); err != nil {
		return n.fs.errno("truncate", rel, err)
	}
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	rel := n.rel()
	if flags&syscall.O_TRUNC != 0 && flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		if err := n.fs.engine.Truncate(rel, 0); err != nil {
			return nil, 0, n.fs.errno("open", rel, err)
		}
	}
	return nil, 0, 0
}

func (n *fileNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	rel := n.rel()
	count, err := n.fs.engine.Read(rel, dest, off)
	if err != nil {
		return nil, n.fs.errno("read", rel, err)
	}
	return fuse.ReadResultData(dest[:count]), 0
}

func (n *fileNode) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	rel := n.rel()
	count, err := n.fs.engine.Write(rel, data, off)
	if err != nil {
		return 0, n.fs.errno("write", rel, err)
	}
	return uint32(count), 0
}

// Writes reach the shards before Write returns, so there is nothing left to
// flush or sync.
func (n *fileNode) Flush(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	return 0
}

func (n *fileNode) Fsync(ctx context.Context, f gofuse.FileHandle, flags uint32) syscall.Errno {
	return 0
}

func (n *fileNode) Release(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	return 0
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
