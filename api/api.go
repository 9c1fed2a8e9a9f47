package api

import (
	"iter"

	"github.com/tweag/asset-hashserve/integrity"
)

// An Asset is a static file known before the first request.
// It is immutable once handed out by a Registry.
type Asset struct {
	// Path is the logical path, relative and without a leading slash (e.g. "css/style.css").
	Path string
	Data []byte
	// Checksum is the full content hash. Its length is at least the fingerprint size.
	Checksum integrity.Checksum
	// MIMEType is sent as the Content-Type of the asset.
	MIMEType string
}

// SizeBytes is the length of the asset content.
func (a Asset) SizeBytes() int64 {
	return int64(len(a.Data))
}

// Digest is the content digest of the asset under its checksum algorithm.
func (a Asset) Digest() integrity.Digest {
	return integrity.NewDigest(a.Checksum.Hash, a.SizeBytes(), a.Checksum.Algorithm)
}

// Registry maps logical paths to assets.
// Implementations must be safe for concurrent reads.
type Registry interface {
	Get(path string) (Asset, bool)
}

// ListableRegistry is a Registry that can enumerate its assets.
type ListableRegistry interface {
	Registry
	// Assets yields every asset ordered by path.
	Assets() iter.Seq[Asset]
	Len() int
}
