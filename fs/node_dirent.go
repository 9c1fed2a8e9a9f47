package fs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

type dirent struct {
	fs.Inode
	node *Directory
}

func (n *dirent) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	root := n.Root().Operations().(*root)

	child, ok := n.node.Children[name]
	if !ok {
		return nil, syscall.ENOENT
	}

	var ops fs.InodeEmbedder
	var stableAttr fs.StableAttr
	switch child := child.(type) {
	case *Directory:
		ops = &dirent{node: child}
		out.Mode = modeDirReadonly
		stableAttr.Mode = syscall.S_IFDIR
	case *Leaf:
		ops = &leaf{asset: child.Asset}
		out.Mode = modeRegularReadonly
		out.Size = uint64(child.Asset.SizeBytes())
		out.Blocks = (out.Size + 511) / 512
		stableAttr.Mode = syscall.S_IFREG
	default:
		return nil, syscall.EIO
	}
	// the tree never changes after mounting
	out.SetAttrTimeout(entryTTL)
	out.SetEntryTimeout(entryTTL)
	out.SetTimes(nil, &root.mtime, &root.mtime)

	return n.NewInode(ctx, ops, stableAttr), 0
}

func (n *dirent) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names := n.node.Names()
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		mode := uint32(syscall.S_IFREG)
		if _, ok := n.node.Children[name].(*Directory); ok {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *dirent) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	root := n.Root().Operations().(*root)
	out.Mode = modeDirReadonly
	out.SetTimes(nil, &root.mtime, &root.mtime)
	out.SetTimeout(entryTTL)
	return 0
}

func (n *dirent) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	// dirent nodes do not have extended attributes
	return 0, syscall.ENODATA
}

func (n *dirent) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	// dirent nodes do not have extended attributes
	return 0, 0
}

const entryTTL = 24 * time.Hour

// ensure dirent type embeds fs.Inode
var _ = (fs.InodeEmbedder)((*dirent)(nil))

var (
	_ = (fs.NodeLookuper)((*dirent)(nil))
	_ = (fs.NodeReaddirer)((*dirent)(nil))
	_ = (fs.NodeGetattrer)((*dirent)(nil))
	_ = (fs.NodeGetxattrer)((*dirent)(nil))
	_ = (fs.NodeListxattrer)((*dirent)(nil))
)
