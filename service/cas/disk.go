package cas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/internal/logging"
	"github.com/tweag/asset-hashserve/service/status"
)

// Disk is a local content-addressable storage that stores blobs on disk.
type Disk struct {
	rootDir string
}

// NewDisk creates a new Disk CAS with the given root directory.
func NewDisk(rootDir string) (*Disk, error) {
	disk := &Disk{rootDir: rootDir}
	if err := disk.initializeCacheDir(); err != nil {
		return nil, err
	}
	return disk, nil
}

func (d *Disk) FindMissingBlobs(ctx context.Context, blobDigests []integrity.Digest, digestFunction integrity.Algorithm) ([]integrity.Digest, error) {
	missing := make([]integrity.Digest, 0, len(blobDigests))
	for _, digest := range blobDigests {
		blobPath := d.blobPath(digest, digestFunction)
		fileInfo, err := os.Stat(blobPath)
		if errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, digest)
			continue
		} else if err != nil {
			return nil, err
		}
		if fileInfo.IsDir() {
			// our cache is corrupted
			return nil, fmt.Errorf("blob path %s is a directory", blobPath)
		}
		if fileInfo.Size() != digest.SizeBytes {
			logging.Warningf("disk cache: blob %s has size %d, expected %d", blobPath, fileInfo.Size(), digest.SizeBytes)
			missing = append(missing, digest)
		}
	}
	return missing, nil
}

func (d *Disk) BatchReadBlobs(ctx context.Context, blobDigests []integrity.Digest, digestFunction integrity.Algorithm) (BatchReadBlobsResponse, error) {
	responses := make(BatchReadBlobsResponse, 0, len(blobDigests))
	for _, digest := range blobDigests {
		data, err := os.ReadFile(d.blobPath(digest, digestFunction))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			responses = append(responses, ReadBlobsResponse{
				Digest: digest,
				Status: status.Status{Code: status.Status_NOT_FOUND},
			})
		case err != nil:
			responses = append(responses, ReadBlobsResponse{
				Digest: digest,
				Status: status.Status{Code: status.Status_UNKNOWN, Message: err.Error()},
			})
		case int64(len(data)) != digest.SizeBytes:
			responses = append(responses, ReadBlobsResponse{
				Digest: digest,
				Status: status.Status{Code: status.Status_NOT_FOUND, Message: "size mismatch in disk cache"},
			})
		default:
			responses = append(responses, ReadBlobsResponse{
				Digest: digest,
				Data:   data,
				Status: status.Status{Code: status.Status_OK},
			})
		}
	}
	return responses, readBatchError(responses)
}

func (d *Disk) BatchUpdateBlobs(ctx context.Context, blobData DigestsAndData, digestFunction integrity.Algorithm) (BatchUpdateBlobsResponse, error) {
	responses := make(BatchUpdateBlobsResponse, 0, len(blobData))
	for _, item := range blobData {
		responses = append(responses, UpdateBlobsResponse{item.Digest, d.writeBlob(item, digestFunction)})
	}
	return responses, updateBatchError(responses)
}

func (d *Disk) writeBlob(item DigestAndData, digestFunction integrity.Algorithm) status.Status {
	staging, err := d.stagingFile(item.Digest, digestFunction)
	if err != nil {
		return statusFromFileError(err)
	}
	if _, err := io.Copy(staging, bytes.NewReader(item.Data)); err != nil {
		staging.Abort()
		return statusFromFileError(err)
	}
	if err := staging.Close(); errors.Is(err, integrity.ErrContentMismatch) {
		return status.Status{Code: status.Status_INVALID_ARGUMENT, Message: err.Error()}
	} else if err != nil {
		return statusFromFileError(err)
	}
	return status.Status{Code: status.Status_OK}
}

func statusFromFileError(err error) status.Status {
	if errors.Is(err, fs.ErrPermission) {
		return status.Status{Code: status.Status_PERMISSION_DENIED, Message: err.Error()}
	}
	return status.Status{Code: status.Status_INTERNAL, Message: err.Error()}
}

func (d *Disk) ReadStream(ctx context.Context, blobDigest integrity.Digest, digestFunction integrity.Algorithm, offset, limit int64) (io.ReadCloser, error) {
	file, err := os.Open(d.blobPath(blobDigest, digestFunction))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, blobDigest.Hex(digestFunction))
	} else if err != nil {
		return nil, err
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}
	if limit == 0 {
		// Zero means no limit.
		return file, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(file, limit), file}, nil
}

// blobPath returns the path to the blob with the given digest.
// The directory structure used here is very similar to the one used by Bazel's local cache.
// The only difference is that we allow for different digest functions, by using a subdirectory for each digest function.
// You can still use this directory structure with Bazel's local cache, by using a subdir:
//
//	bazel build --disk_cache=/path/to/cache/root/sha256
func (d *Disk) blobPath(digest integrity.Digest, digestFunction integrity.Algorithm) string {
	hex := digest.Hex(digestFunction)
	return filepath.Join(d.rootDir, digestFunction.String(), "cas", hex[:2], hex)
}

func (d *Disk) stagingFile(digest integrity.Digest, digestFunction integrity.Algorithm) (*blobFinalizer, error) {
	hex := digest.Hex(digestFunction)
	dir := filepath.Join(d.rootDir, digestFunction.String(), "staging")
	tmpfile, err := os.CreateTemp(dir, hex+"-")
	if err != nil {
		return nil, err
	}
	return &blobFinalizer{
		File:        tmpfile,
		stagingPath: tmpfile.Name(),
		finalPath:   d.blobPath(digest, digestFunction),

		digest:         digest,
		digestFunction: digestFunction,
	}, nil
}

func (d *Disk) initializeCacheDir() error {
	// <rootDir>/<digestFunction>/cas/<first 2 hex>/
	// <rootDir>/<digestFunction>/staging/
	if err := os.MkdirAll(d.rootDir, 0o755); err != nil {
		return err
	}
	for digestFunction := range integrity.SupportedAlgorithms() {
		digestPrefix := filepath.Join(d.rootDir, digestFunction.String())
		for i := 0; i < 256; i++ {
			if err := os.MkdirAll(filepath.Join(digestPrefix, "cas", fmt.Sprintf("%02x", i)), 0o755); err != nil {
				return err
			}
		}
		stagingDir := filepath.Join(digestPrefix, "staging")
		if err := os.MkdirAll(stagingDir, 0o755); err != nil {
			return err
		}
		// clean up leftover files from earlier runs
		// (this assumes that the directory is only used by this process)
		files, err := os.ReadDir(stagingDir)
		if err != nil {
			return err
		}
		for _, file := range files {
			if err := os.Remove(filepath.Join(stagingDir, file.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// blobFinalizer is a staging file that is verified and moved into place on Close.
type blobFinalizer struct {
	*os.File
	stagingPath string
	finalPath   string

	digest         integrity.Digest
	digestFunction integrity.Algorithm
}

func (b *blobFinalizer) Abort() {
	b.File.Close()
	os.Remove(b.stagingPath)
}

func (b *blobFinalizer) Close() error {
	if err := b.File.Close(); err != nil {
		os.Remove(b.stagingPath)
		return err
	}
	defer os.Remove(b.stagingPath)

	// verify that the file contents are correct
	validationFile, err := os.Open(b.stagingPath)
	if err != nil {
		return fmt.Errorf("opening staging file %s for validation: %w", b.stagingPath, err)
	}
	defer validationFile.Close()
	if err := b.digest.CheckContent(validationFile, b.digestFunction); err != nil {
		return fmt.Errorf("validating staging file %s: %w", b.stagingPath, err)
	}

	if err := os.Rename(b.stagingPath, b.finalPath); err != nil {
		return fmt.Errorf("renaming staging file %s to final blob %s: %w", b.stagingPath, b.finalPath, err)
	}
	return nil
}

var _ CAS = (*Disk)(nil)
