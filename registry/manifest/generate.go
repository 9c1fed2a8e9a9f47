package manifest

import (
	"context"
	"fmt"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/service/cas"
)

// Generate describes an existing registry.
// Every entry carries the asset's own checksum plus one per extra algorithm.
func Generate(reg api.ListableRegistry, extraAlgorithms ...integrity.Algorithm) Manifest {
	m := make(Manifest, reg.Len())
	for asset := range reg.Assets() {
		checksums := []integrity.Checksum{asset.Checksum}
		for _, alg := range extraAlgorithms {
			if alg != asset.Checksum.Algorithm {
				checksums = append(checksums, integrity.ChecksumOf(asset.Data, alg))
			}
		}
		m[asset.Path] = NewEntry(integrity.IntegrityFromChecksums(checksums...), asset.SizeBytes(), asset.MIMEType)
	}
	return m
}

// Push uploads every asset of the registry that the store is missing.
// Assets must be hashed with digestFunction.
func Push(ctx context.Context, reg api.ListableRegistry, store cas.CAS, digestFunction integrity.Algorithm) (int, error) {
	var digests []integrity.Digest
	byHex := map[string]api.Asset{}
	for asset := range reg.Assets() {
		if asset.Checksum.Algorithm != digestFunction {
			return 0, fmt.Errorf("%s: hashed with %s, expected %s", asset.Path, asset.Checksum.Algorithm, digestFunction)
		}
		digest := asset.Digest()
		digests = append(digests, digest)
		byHex[digest.Hex(digestFunction)] = asset
	}
	missing, err := store.FindMissingBlobs(ctx, digests, digestFunction)
	if err != nil {
		return 0, fmt.Errorf("finding missing blobs: %w", err)
	}

	var batch cas.DigestsAndData
	var batchSize int64
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := store.BatchUpdateBlobs(ctx, batch, digestFunction)
		batch, batchSize = nil, 0
		return err
	}
	for _, digest := range missing {
		asset := byHex[digest.Hex(digestFunction)]
		if batchSize+digest.SizeBytes > maxBatchSize && len(batch) > 0 {
			if err := flush(); err != nil {
				return 0, err
			}
		}
		batch = append(batch, cas.DigestAndData{Digest: digest, Data: asset.Data})
		batchSize += digest.SizeBytes
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return len(missing), nil
}
