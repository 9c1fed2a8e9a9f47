// Package assetserve builds content-addressed asset URLs and serves them.
//
// A versioned URL has the form <prefix>/<token>/<logical path>, where the
// token is the fingerprint of the asset's content hash. A request is only
// served when its token is a prefix of the current content hash, so a URL
// stays valid exactly as long as the content it was built for.
package assetserve

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/fingerprint"
)

// Path returns the versioned URL path of an asset, or false if the registry does not know it.
func Path(registry api.Registry, prefix, logicalPath string) (string, bool) {
	asset, ok := registry.Get(logicalPath)
	if !ok {
		return "", false
	}
	return versionedPath(prefix, asset), true
}

// URLs maps every logical path of the registry to its versioned URL path.
func URLs(registry api.ListableRegistry, prefix string) map[string]string {
	out := make(map[string]string, registry.Len())
	for asset := range registry.Assets() {
		out[asset.Path] = versionedPath(prefix, asset)
	}
	return out
}

func versionedPath(prefix string, asset api.Asset) string {
	return normalizePrefix(prefix) + fingerprint.Of(asset.Checksum.Hash).String() + "/" + asset.Path
}

// normalizePrefix makes the prefix end in exactly one slash it did not already have.
func normalizePrefix(prefix string) string {
	if strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// Builder produces versioned URLs for a fixed registry and prefix.
// It is safe for concurrent use.
type Builder struct {
	registry api.Registry
	prefix   string
}

func NewBuilder(registry api.Registry, prefix string) *Builder {
	return &Builder{registry: registry, prefix: prefix}
}

func (b *Builder) Prefix() string {
	return b.prefix
}

func (b *Builder) Path(logicalPath string) (string, bool) {
	return Path(b.registry, b.prefix, logicalPath)
}

// MustPath is like Path but panics for unknown assets.
func (b *Builder) MustPath(logicalPath string) string {
	p, ok := b.Path(logicalPath)
	if !ok {
		panic(fmt.Sprintf("asset %q not found", logicalPath))
	}
	return p
}

// Integrity returns the subresource integrity string of an asset.
func (b *Builder) Integrity(logicalPath string) (string, bool) {
	asset, ok := b.registry.Get(logicalPath)
	if !ok {
		return "", false
	}
	return asset.Checksum.ToSRI(), true
}

// FuncMap exposes asset_path and asset_integrity to templates.
// Both fail template execution for unknown assets; guard optional ones with has_asset.
func (b *Builder) FuncMap() template.FuncMap {
	return template.FuncMap{
		"has_asset": func(logicalPath string) bool {
			_, ok := b.registry.Get(logicalPath)
			return ok
		},
		"asset_path": func(logicalPath string) (string, error) {
			p, ok := b.Path(logicalPath)
			if !ok {
				return "", fmt.Errorf("asset_path: %w: %s", ErrUnknownAsset, logicalPath)
			}
			return p, nil
		},
		"asset_integrity": func(logicalPath string) (string, error) {
			sri, ok := b.Integrity(logicalPath)
			if !ok {
				return "", fmt.Errorf("asset_integrity: %w: %s", ErrUnknownAsset, logicalPath)
			}
			return sri, nil
		},
	}
}
