package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/service/status"
)

// CAS is the interface for a content-addressable storage system.
// It is modeled after the remote execution API's ContentAddressableStorage service.
// However, it does not assume that the storage system is remote or that it is accessed via gRPC.
type CAS interface {
	Checker
	Reader
	Writer
}

type Checker interface {
	FindMissingBlobs(ctx context.Context, blobDigests []integrity.Digest, digestFunction integrity.Algorithm) ([]integrity.Digest, error)
}

type Reader interface {
	// BatchReadBlobs returns one response per requested digest, in request order.
	// If any response is not OK, the error is a *BatchError.
	BatchReadBlobs(ctx context.Context, blobDigests []integrity.Digest, digestFunction integrity.Algorithm) (BatchReadBlobsResponse, error)
	// ReadStream reads a blob starting at offset. A limit of zero means no limit.
	ReadStream(ctx context.Context, blobDigest integrity.Digest, digestFunction integrity.Algorithm, offset, limit int64) (io.ReadCloser, error)
}

type Writer interface {
	BatchUpdateBlobs(ctx context.Context, blobData DigestsAndData, digestFunction integrity.Algorithm) (BatchUpdateBlobsResponse, error)
}

type BatchReadBlobsResponse []ReadBlobsResponse

type ReadBlobsResponse struct {
	Digest integrity.Digest
	Data   []byte
	Status status.Status
}

type BatchUpdateBlobsResponse []UpdateBlobsResponse

type UpdateBlobsResponse struct {
	Digest integrity.Digest
	Status status.Status
}

type DigestAndData struct {
	Digest integrity.Digest
	Data   []byte
}

type DigestsAndData []DigestAndData

// ErrBatchResponseHasNonZeroStatus matches every *BatchError.
var ErrBatchResponseHasNonZeroStatus = errors.New("batch response has non-zero status")

// ErrNotFound is returned by ReadStream for missing blobs.
var ErrNotFound = errors.New("blob not found")

// BatchError lists the blobs of a batch call that did not succeed.
type BatchError struct {
	Failed []FailedBlob
}

type FailedBlob struct {
	Digest integrity.Digest
	Status status.Status
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, failed := range e.Failed {
		parts = append(parts, fmt.Sprintf("%d bytes: %s", failed.Digest.SizeBytes, failed.Status))
	}
	return fmt.Sprintf("%s (%d blobs): %s", ErrBatchResponseHasNonZeroStatus, len(e.Failed), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() error {
	return ErrBatchResponseHasNonZeroStatus
}

// OnlyNotFound reports whether every failure is a missing blob.
func (e *BatchError) OnlyNotFound() bool {
	return !slices.ContainsFunc(e.Failed, func(f FailedBlob) bool {
		return f.Status.Code != status.Status_NOT_FOUND
	})
}

func readBatchError(responses BatchReadBlobsResponse) error {
	var failed []FailedBlob
	for _, response := range responses {
		if !response.Status.OK() {
			failed = append(failed, FailedBlob{Digest: response.Digest, Status: response.Status})
		}
	}
	if len(failed) > 0 {
		return &BatchError{Failed: failed}
	}
	return nil
}

func updateBatchError(responses BatchUpdateBlobsResponse) error {
	var failed []FailedBlob
	for _, response := range responses {
		if !response.Status.OK() {
			failed = append(failed, FailedBlob{Digest: response.Digest, Status: response.Status})
		}
	}
	if len(failed) > 0 {
		return &BatchError{Failed: failed}
	}
	return nil
}
