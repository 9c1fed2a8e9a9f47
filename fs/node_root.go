// Package fs exposes a registry as a read-only FUSE filesystem.
package fs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/assetserve"
)

// modeRegularReadonly is the mode for regular files that are read-only.
// This sets the r bit for all users.
const modeRegularReadonly = syscall.S_IFREG | 0o444

// modeDirReadonly is the mode for directories that are read-only
// This sets the r and x bits for all users,
// which is needed to "cd" into the directory and list its contents.
const modeDirReadonly = syscall.S_IFDIR | 0o555

// URLsFileName is a hidden file in the root holding the URL of every asset as JSON.
const URLsFileName = ".asset-urls.json"

type root struct {
	// the root node is a directory
	dirent

	// mtime (and ctime) of inodes, the time the registry was snapshotted
	mtime time.Time

	// content of URLsFileName
	urls []byte
}

// Root builds the root inode for a snapshot of the registry, laid out by view.
// URLs in URLsFileName are built with prefix.
func Root(reg api.ListableRegistry, view View, prefix string, mtime time.Time) (fs.InodeEmbedder, error) {
	tree, err := view.Tree(reg)
	if err != nil {
		return nil, err
	}
	urls, err := marshalURLs(assetserve.URLs(reg, prefix))
	if err != nil {
		return nil, err
	}
	return &root{
		dirent: dirent{node: tree.Root},
		mtime:  mtime,
		urls:   urls,
	}, nil
}

func (r *root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if name == URLsFileName {
		out.Mode = modeRegularReadonly
		out.SetTimes(nil, &r.mtime, &r.mtime)
		out.Size = uint64(len(r.urls))
		return r.NewInode(ctx, &urlsfile{}, fs.StableAttr{Mode: syscall.S_IFREG}), 0
	}
	return r.dirent.Lookup(ctx, name, out)
}

// ensure root type embeds fs.Inode
var _ = (fs.InodeEmbedder)((*root)(nil))

var (
	_ = (fs.NodeLookuper)((*root)(nil))
	_ = (fs.NodeReaddirer)((*root)(nil))
	_ = (fs.NodeGetattrer)((*root)(nil))
	_ = (fs.NodeGetxattrer)((*root)(nil))
	_ = (fs.NodeListxattrer)((*root)(nil))
)
