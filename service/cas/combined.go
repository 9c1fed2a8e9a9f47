package cas

import (
	"context"
	"errors"
	"io"

	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/internal/logging"
	"github.com/tweag/asset-hashserve/service/status"
)

// Combined is a content-addressable storage that combines a remote and a local CAS.
// Reads are served locally when possible. Blobs fetched from the remote are written back to the local CAS.
// Writes go to both.
type Combined struct {
	remote CAS
	local  CAS
}

func NewCombined(local, remote CAS) *Combined {
	return &Combined{local: local, remote: remote}
}

func (c *Combined) FindMissingBlobs(ctx context.Context, blobDigests []integrity.Digest, digestFunction integrity.Algorithm) ([]integrity.Digest, error) {
	missingLocally, err := c.local.FindMissingBlobs(ctx, blobDigests, digestFunction)
	if err != nil || len(missingLocally) == 0 {
		return missingLocally, err
	}
	return c.remote.FindMissingBlobs(ctx, missingLocally, digestFunction)
}

func (c *Combined) BatchReadBlobs(ctx context.Context, blobDigests []integrity.Digest, digestFunction integrity.Algorithm) (BatchReadBlobsResponse, error) {
	responses, err := c.local.BatchReadBlobs(ctx, blobDigests, digestFunction)
	var batchErr *BatchError
	if err != nil && !errors.As(err, &batchErr) {
		return nil, err
	}

	var fallbackDigests []integrity.Digest
	var fallbackIndices []int
	for i, response := range responses {
		if response.Status.Code == status.Status_NOT_FOUND {
			fallbackDigests = append(fallbackDigests, response.Digest)
			fallbackIndices = append(fallbackIndices, i)
		}
	}
	if len(fallbackDigests) == 0 {
		return responses, err
	}

	logging.Debugf("fetching %d blobs from remote CAS", len(fallbackDigests))
	remoteResponses, remoteErr := c.remote.BatchReadBlobs(ctx, fallbackDigests, digestFunction)
	if remoteErr != nil && !errors.As(remoteErr, &batchErr) {
		return nil, remoteErr
	}
	var writeBack DigestsAndData
	for i, remoteResponse := range remoteResponses {
		responses[fallbackIndices[i]] = remoteResponse
		if remoteResponse.Status.OK() {
			writeBack = append(writeBack, DigestAndData{Digest: remoteResponse.Digest, Data: remoteResponse.Data})
		}
	}
	if len(writeBack) > 0 {
		// a blob the remote got wrong fails verification here and is reported
		updates, writeErr := c.local.BatchUpdateBlobs(ctx, writeBack, digestFunction)
		if writeErr != nil {
			logging.Warningf("writing remote blobs to local CAS: %v", writeErr)
		}
		for _, update := range updates {
			if update.Status.Code != status.Status_INVALID_ARGUMENT {
				continue
			}
			for i := range responses {
				if responses[i].Digest.Equals(update.Digest, digestFunction) {
					responses[i].Data = nil
					responses[i].Status = update.Status
				}
			}
		}
	}
	return responses, readBatchError(responses)
}

func (c *Combined) BatchUpdateBlobs(ctx context.Context, blobData DigestsAndData, digestFunction integrity.Algorithm) (BatchUpdateBlobsResponse, error) {
	responses, err := c.local.BatchUpdateBlobs(ctx, blobData, digestFunction)
	if err != nil {
		return responses, err
	}
	return c.remote.BatchUpdateBlobs(ctx, blobData, digestFunction)
}

func (c *Combined) ReadStream(ctx context.Context, blobDigest integrity.Digest, digestFunction integrity.Algorithm, offset, limit int64) (io.ReadCloser, error) {
	reader, err := c.local.ReadStream(ctx, blobDigest, digestFunction, offset, limit)
	if err == nil {
		return reader, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return c.remote.ReadStream(ctx, blobDigest, digestFunction, offset, limit)
}

var _ CAS = (*Combined)(nil)
