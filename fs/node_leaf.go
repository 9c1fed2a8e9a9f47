package fs

import (
	"bytes"
	"context"
	"io"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/fingerprint"
)

// FingerprintXattr holds the URL token of a leaf.
const FingerprintXattr = "user.fingerprint"

// leaf is a regular file in the filesystem.
// Its content is the data of a single asset.
type leaf struct {
	fs.Inode
	asset api.Asset
}

func (l *leaf) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	// we are a leaf node - we can't have children
	return nil, syscall.ENOENT
}

func (l *leaf) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	root := l.Root().Operations().(*root)
	out.Mode = modeRegularReadonly
	out.SetTimes(nil, &root.mtime, &root.mtime)
	out.Size = uint64(l.asset.SizeBytes())
	out.Blocks = (out.Size + 511) / 512
	out.SetTimeout(entryTTL)
	return 0
}

// xattrs returns the supported extended attributes in a fixed order.
// The hash attribute ("user." + algorithm) holds the raw hash, as Bazel and Buck2 expect.
func (l *leaf) xattrs() []xattr {
	return []xattr{
		{name: "user." + l.asset.Checksum.Algorithm.String(), value: l.asset.Checksum.Hash},
		{name: FingerprintXattr, value: []byte(fingerprint.Of(l.asset.Checksum.Hash).String())},
	}
}

type xattr struct {
	name  string
	value []byte
}

func (l *leaf) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	for _, candidate := range l.xattrs() {
		if candidate.name != attr {
			continue
		}
		destSizeBytes := uint32(len(candidate.value))
		if len(dest) < int(destSizeBytes) {
			// buffer too small
			return destSizeBytes, syscall.ERANGE
		}
		copy(dest, candidate.value)
		return destSizeBytes, 0
	}
	return 0, syscall.ENODATA
}

func (l *leaf) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	attrs := l.xattrs()

	// calculate the total size of the attribute names
	var destSizeBytes uint32
	for _, attr := range attrs {
		destSizeBytes += uint32(len(attr.name) + 1)
	}

	if len(dest) < int(destSizeBytes) {
		// buffer too small
		return destSizeBytes, syscall.ERANGE
	}

	// copy the attribute names into the buffer
	// separated by null bytes
	current := dest
	for _, attr := range attrs {
		copy(current, attr.name)
		current = current[len(attr.name):]
		current[0] = 0
		current = current[1:]
	}

	return destSizeBytes, 0
}

func (l *leaf) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if errno := checkReadOnlyFlags(flags); errno != 0 {
		return nil, 0, errno
	}
	// content never changes, so the kernel may keep its page cache
	return &leafHandle{reader: newLeafReader(l.asset.Data)}, fuse.FOPEN_KEEP_CACHE, 0
}

// checkReadOnlyFlags rejects any open mode other than plain reading.
func checkReadOnlyFlags(flags uint32) syscall.Errno {
	switch {
	case flags&syscall.O_ACCMODE != syscall.O_RDONLY,
		flags&syscall.O_TRUNC != 0,
		flags&syscall.O_APPEND != 0,
		flags&syscall.O_CREAT != 0,
		flags&syscall.O_EXCL != 0:
		return syscall.EACCES
	}

	// syscall.O_LARGEFILE is 0x0 on x86_64, but the kernel
	// supplies 0x8000 anyway, except on mips64el, where 0x8000 is
	// used for O_DIRECT.
	const explicitLargeFileFlag = 0x8000
	supportedFlags := uint32(syscall.O_RDONLY | syscall.O_LARGEFILE | explicitLargeFileFlag | syscall.O_NOATIME | syscall.O_NOFOLLOW)
	if flags&^supportedFlags != 0 {
		return syscall.EINVAL
	}
	return 0
}

type leafHandle struct {
	reader readerAtCloser
}

func (h *leafHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.reader.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *leafHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.reader.Close(); err != nil {
		return syscall.EIO
	}
	return 0
}

type leafReader struct {
	*bytes.Reader
}

func newLeafReader(data []byte) *leafReader {
	return &leafReader{Reader: bytes.NewReader(data)}
}

func (l *leafReader) Close() error {
	return nil
}

// ensure leafReader can be used in the leafHandle.
var _ readerAtCloser = (*leafReader)(nil)

type readerAtCloser interface {
	io.ReaderAt
	io.Closer
}

// ensure leaf type embeds fs.Inode
var _ = (fs.InodeEmbedder)((*leaf)(nil))

var (
	_ = (fs.NodeLookuper)((*leaf)(nil))
	_ = (fs.NodeGetattrer)((*leaf)(nil))
	_ = (fs.NodeGetxattrer)((*leaf)(nil))
	_ = (fs.NodeListxattrer)((*leaf)(nil))
	_ = (fs.NodeOpener)((*leaf)(nil))
)

var (
	_ = (fs.FileReader)((*leafHandle)(nil))
	_ = (fs.FileReleaser)((*leafHandle)(nil))
)
