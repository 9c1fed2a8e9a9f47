package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/internal/logging"
)

// FromFS reads every regular file below the root of fsys into a Static registry.
// Hidden files and directories (starting with ".") are skipped.
func FromFS(fsys fs.FS, algorithm integrity.Algorithm) (*Static, error) {
	var assets []api.Asset
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			logging.Debugf("skipping non-regular file %s", p)
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading asset %s: %w", p, err)
		}
		assets = append(assets, NewAsset(p, data, algorithm))
		return nil
	})
	if err != nil {
		return nil, err
	}
	registry, err := NewStatic(assets...)
	if err != nil {
		return nil, err
	}
	logging.Debugf("loaded %d assets", registry.Len())
	return registry, nil
}

// NewAsset hashes data and detects its MIME type.
func NewAsset(logicalPath string, data []byte, algorithm integrity.Algorithm) api.Asset {
	return api.Asset{
		Path:     logicalPath,
		Data:     data,
		Checksum: integrity.ChecksumOf(data, algorithm),
		MIMEType: DetectMIMEType(logicalPath, data),
	}
}

// DetectMIMEType guesses the MIME type from the file extension,
// falling back to content sniffing.
func DetectMIMEType(logicalPath string, data []byte) string {
	if ext := path.Ext(logicalPath); ext != "" {
		if mimeType := mime.TypeByExtension(ext); mimeType != "" {
			return mimeType
		}
	}
	return http.DetectContentType(data[:min(len(data), 512)])
}

// SubFS is fs.Sub with a check that the directory exists.
func SubFS(fsys fs.FS, dir string) (fs.FS, error) {
	info, err := fs.Stat(fsys, dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New(dir + " is not a directory")
	}
	return fs.Sub(fsys, dir)
}

// Equal reports whether two registries hold identical assets.
func Equal(a, b *Static) bool {
	if a.Len() != b.Len() {
		return false
	}
	for asset := range a.Assets() {
		other, ok := b.Get(asset.Path)
		if !ok || !asset.Checksum.Equals(other.Checksum) || asset.MIMEType != other.MIMEType || !bytes.Equal(asset.Data, other.Data) {
			return false
		}
	}
	return true
}
