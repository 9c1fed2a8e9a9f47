// Package registry provides implementations of api.Registry.
package registry

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/fingerprint"
)

// Static is an immutable registry of in-memory assets.
type Static struct {
	assets map[string]api.Asset
	// sorted logical paths
	paths []string
}

// NewStatic validates and indexes the given assets.
func NewStatic(assets ...api.Asset) (*Static, error) {
	s := &Static{assets: make(map[string]api.Asset, len(assets))}
	issues := []string{}
	for _, asset := range assets {
		issuesForPath := []string{}
		if err := ValidatePath(asset.Path); err != nil {
			issuesForPath = append(issuesForPath, err.Error())
		}
		if !asset.Checksum.Valid() {
			issuesForPath = append(issuesForPath, "checksum length does not match its algorithm")
		} else if len(asset.Checksum.Hash) < fingerprint.Size {
			issuesForPath = append(issuesForPath, fmt.Sprintf("checksum must be at least %d bytes", fingerprint.Size))
		}
		if _, ok := s.assets[asset.Path]; ok {
			issuesForPath = append(issuesForPath, "duplicate path")
		}
		if len(issuesForPath) > 0 {
			issues = append(issues, asset.Path+": "+strings.Join(issuesForPath, ", "))
			continue
		}
		s.assets[asset.Path] = asset
		s.paths = append(s.paths, asset.Path)
	}
	if len(issues) > 0 {
		return nil, errors.New("registry validation failed: \n  " + strings.Join(issues, "\n  "))
	}
	slices.Sort(s.paths)
	return s, nil
}

// MustStatic is like NewStatic but panics on invalid assets.
func MustStatic(assets ...api.Asset) *Static {
	s, err := NewStatic(assets...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Static) Get(path string) (api.Asset, bool) {
	asset, ok := s.assets[path]
	return asset, ok
}

func (s *Static) Assets() iter.Seq[api.Asset] {
	return func(yield func(api.Asset) bool) {
		for _, path := range s.paths {
			if !yield(s.assets[path]) {
				return
			}
		}
	}
}

func (s *Static) Len() int {
	return len(s.paths)
}

// ValidatePath checks that a logical path is relative and canonical:
// no empty segments, no "." or ".." segments, no leading or trailing slashes.
func ValidatePath(logicalPath string) error {
	if logicalPath == "" || logicalPath[0] == '/' {
		return errors.New("path must be a non-empty relative path")
	}
	for _, segment := range strings.Split(logicalPath, "/") {
		if segment == "" {
			return errors.New("path must not contain empty segments")
		}
		if segment == "." || segment == ".." {
			return errors.New("path must not contain '.' or '..' segments")
		}
		if strings.ContainsRune(segment, 0) {
			return errors.New("path must not contain NUL bytes")
		}
	}
	return nil
}

var _ api.ListableRegistry = (*Static)(nil)
