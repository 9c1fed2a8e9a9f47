package fs

import (
	"context"
	"encoding/json"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/tweag/asset-hashserve/internal/logging"
)

// urlsfile is a special leaf in the root that is not listed
// as a dirent, but can be stated and opened.
// Build tools can read it to learn the versioned URL of every asset.
type urlsfile struct {
	fs.Inode
}

func marshalURLs(urls map[string]string) ([]byte, error) {
	out, err := json.MarshalIndent(urls, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func (u *urlsfile) content() []byte {
	return u.Root().Operations().(*root).urls
}

func (u *urlsfile) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	// we are a leaf node - we can't have children
	return nil, syscall.ENOENT
}

func (u *urlsfile) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	root := u.Root().Operations().(*root)
	out.Mode = modeRegularReadonly
	out.SetTimes(nil, &root.mtime, &root.mtime)
	out.Size = uint64(len(root.urls))
	out.Blocks = (out.Size + 511) / 512
	return 0
}

func (u *urlsfile) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if errno := checkReadOnlyFlags(flags); errno != 0 {
		return nil, 0, errno
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (u *urlsfile) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	logging.Debugf("urlsfile read at %d", off)
	content := u.content()
	if off >= int64(len(content)) {
		return fuse.ReadResultData(nil), 0
	}
	n := copy(dest, content[off:])
	return fuse.ReadResultData(dest[:n]), 0
}

var (
	_ = (fs.InodeEmbedder)((*urlsfile)(nil))
	_ = (fs.NodeLookuper)((*urlsfile)(nil))
	_ = (fs.NodeGetattrer)((*urlsfile)(nil))
	_ = (fs.NodeOpener)((*urlsfile)(nil))
	_ = (fs.NodeReader)((*urlsfile)(nil))
)
