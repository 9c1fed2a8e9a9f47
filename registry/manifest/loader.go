package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/internal/logging"
	"github.com/tweag/asset-hashserve/internal/workqueue"
	"github.com/tweag/asset-hashserve/registry"
	"github.com/tweag/asset-hashserve/service/cas"
)

const (
	// Blobs larger than this are streamed instead of read in a batch.
	maxBatchBlobSize = 1 << 20
	// Upper bound for the total size of a single batch request.
	maxBatchSize     = 2 << 20
	defaultWorkers   = 8
)

// Loader turns manifests into registries by reading blobs from a CAS.
type Loader struct {
	store          cas.Reader
	digestFunction integrity.Algorithm
	// checksumCache maps checksums of other algorithms to digests under digestFunction.
	checksumCache *integrity.ChecksumCache
	workers       int
}

func NewLoader(store cas.Reader, digestFunction integrity.Algorithm, checksumCache *integrity.ChecksumCache) *Loader {
	if checksumCache == nil {
		checksumCache = integrity.NewCache()
	}
	return &Loader{
		store:          store,
		digestFunction: digestFunction,
		checksumCache:  checksumCache,
		workers:        defaultWorkers,
	}
}

// LoadFile reads the manifest at path. See Load.
func (l *Loader) LoadFile(ctx context.Context, path string) (*registry.Static, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	reg, err := l.Load(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("loading manifest %s: %w", path, err)
	}
	return reg, nil
}

// Load decodes a manifest and fetches every asset from the CAS.
// Each blob is verified against all checksums given for it.
func (l *Loader) Load(ctx context.Context, r io.Reader) (*registry.Static, error) {
	m, err := Decode(r)
	if err != nil {
		return nil, err
	}

	entries := make([]pendingAsset, 0, len(m))
	for _, path := range m.paths() {
		entry := m[path]
		entryIntegrity, err := entry.ParsedIntegrity()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		digest, err := l.digestFor(entryIntegrity, *entry.Size)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		entries = append(entries, pendingAsset{path: path, entry: entry, integrity: entryIntegrity, digest: digest})
	}

	batches := planBatches(entries)
	logging.Debugf("fetching %d assets in %d requests", len(entries), len(batches))
	results, err := workqueue.Map(ctx, batches, l.workers, l.fetch)
	if err != nil {
		return nil, err
	}

	var assets []api.Asset
	for _, batch := range results {
		assets = append(assets, batch...)
	}
	return registry.NewStatic(assets...)
}

func (l *Loader) digestFor(entryIntegrity integrity.Integrity, size int64) (integrity.Digest, error) {
	if checksum, ok := entryIntegrity.ChecksumForAlgorithm(l.digestFunction); ok {
		digest := integrity.NewDigest(checksum.Hash, size, l.digestFunction)
		for other := range entryIntegrity.Items() {
			l.checksumCache.PutAlias(other, digest)
		}
		return digest, nil
	}
	if digest, ok := l.checksumCache.FromIntegrity(entryIntegrity); ok {
		return digest, nil
	}
	return integrity.Digest{}, fmt.Errorf("integrity has no %s checksum and no known digest for %s", l.digestFunction, entryIntegrity.ToSRIString())
}

type pendingAsset struct {
	path      string
	entry     ManifestEntry
	integrity integrity.Integrity
	digest    integrity.Digest
}

// planBatches groups small blobs into batch reads. Large blobs get a batch of their own and are streamed.
func planBatches(entries []pendingAsset) [][]pendingAsset {
	var batches [][]pendingAsset
	var current []pendingAsset
	var currentSize int64
	for _, entry := range entries {
		if entry.digest.SizeBytes > maxBatchBlobSize {
			batches = append(batches, []pendingAsset{entry})
			continue
		}
		if currentSize+entry.digest.SizeBytes > maxBatchSize && len(current) > 0 {
			batches = append(batches, current)
			current, currentSize = nil, 0
		}
		current = append(current, entry)
		currentSize += entry.digest.SizeBytes
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (l *Loader) fetch(ctx context.Context, batch []pendingAsset) ([]api.Asset, error) {
	if len(batch) == 1 && batch[0].digest.SizeBytes > maxBatchBlobSize {
		data, err := l.stream(ctx, batch[0].digest)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", batch[0].path, err)
		}
		asset, err := l.toAsset(batch[0], data)
		if err != nil {
			return nil, err
		}
		return []api.Asset{asset}, nil
	}

	digests := make([]integrity.Digest, len(batch))
	for i, pending := range batch {
		digests[i] = pending.digest
	}
	responses, err := l.store.BatchReadBlobs(ctx, digests, l.digestFunction)
	var batchErr *cas.BatchError
	if errors.As(err, &batchErr) {
		return nil, fmt.Errorf("%d of %d assets unavailable: %w", len(batchErr.Failed), len(batch), err)
	} else if err != nil {
		return nil, err
	}
	if len(responses) != len(batch) {
		return nil, fmt.Errorf("expected %d blobs, got %d", len(batch), len(responses))
	}
	assets := make([]api.Asset, len(batch))
	for i, pending := range batch {
		assets[i], err = l.toAsset(pending, responses[i].Data)
		if err != nil {
			return nil, err
		}
	}
	return assets, nil
}

func (l *Loader) stream(ctx context.Context, digest integrity.Digest) ([]byte, error) {
	reader, err := l.store.ReadStream(ctx, digest, l.digestFunction, 0, 0)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data := bytes.NewBuffer(make([]byte, 0, digest.SizeBytes))
	if _, err := io.Copy(data, reader); err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}

// toAsset verifies data against the digest and every checksum of the entry.
func (l *Loader) toAsset(pending pendingAsset, data []byte) (api.Asset, error) {
	if err := pending.digest.CheckContent(bytes.NewReader(data), l.digestFunction); err != nil {
		return api.Asset{}, fmt.Errorf("%s: %w", pending.path, err)
	}
	for checksum := range pending.integrity.Items() {
		if !integrity.ChecksumOf(data, checksum.Algorithm).Equals(checksum) {
			return api.Asset{}, fmt.Errorf("%s: %w: %s", pending.path, integrity.ErrContentMismatch, checksum.ToSRI())
		}
	}
	mimeType := pending.entry.MIMEType
	if mimeType == "" {
		mimeType = registry.DetectMIMEType(pending.path, data)
	}
	return api.Asset{
		Path:     pending.path,
		Data:     data,
		Checksum: integrity.ChecksumFromDigest(pending.digest, l.digestFunction),
		MIMEType: mimeType,
	}, nil
}
