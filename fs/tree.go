package fs

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/fingerprint"
	"github.com/tweag/asset-hashserve/registry"
)

var errInsertionConflict = errors.New("insertion path conflicts with existing entry")

// Leaf is a regular file backed by an asset held in memory.
type Leaf struct {
	Asset api.Asset
}

type Directory struct {
	// Children maps a directory entry name to a *Directory or *Leaf.
	Children map[string]any
}

// Names returns the child names in sorted order.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.Children))
	for name := range d.Children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type Tree struct {
	Root *Directory
}

func NewTree() Tree {
	return Tree{Root: &Directory{Children: map[string]any{}}}
}

// Insert adds a leaf, creating parent directories as needed.
func (t Tree) Insert(leafPath string, leaf Leaf) error {
	if err := registry.ValidatePath(leafPath); err != nil {
		return err
	}
	segments := strings.Split(leafPath, "/")

	current := t.Root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := current.Children[segment]
		if !ok {
			child = &Directory{Children: map[string]any{}}
			current.Children[segment] = child
		}
		dir, ok := child.(*Directory)
		if !ok {
			return errInsertionConflict
		}
		current = dir
	}

	leafName := segments[len(segments)-1]
	if _, ok := current.Children[leafName]; ok {
		return errInsertionConflict
	}
	current.Children[leafName] = &leaf
	return nil
}

// Find returns the node at a slash separated path. The empty path is the root.
func (t Tree) Find(nodePath string) (any, bool) {
	var node any = t.Root
	if nodePath == "" {
		return node, true
	}
	for _, segment := range strings.Split(nodePath, "/") {
		dir, ok := node.(*Directory)
		if !ok {
			return nil, false
		}
		node, ok = dir.Children[segment]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// View decides where each asset appears in the mounted tree.
type View struct {
	name     string
	leafPath func(api.Asset) string
	// duplicates of an identical path are expected, e.g. equal content in the cas view
	allowDuplicates bool
}

func (v View) String() string {
	return v.name
}

func ViewFromString(name string) (View, bool) {
	v, ok := knownViews[name]
	return v, ok
}

// ViewNames lists the known views in a stable order.
func ViewNames() []string {
	names := make([]string, 0, len(knownViews))
	for name := range knownViews {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Tree lays out every asset of the registry according to the view.
func (v View) Tree(reg api.ListableRegistry) (Tree, error) {
	tree := NewTree()
	for asset := range reg.Assets() {
		leafPath := v.leafPath(asset)
		err := tree.Insert(leafPath, Leaf{Asset: asset})
		if errors.Is(err, errInsertionConflict) && v.allowDuplicates {
			continue
		}
		if err != nil {
			return Tree{}, fmt.Errorf("inserting %s into %s view: %w", leafPath, v.name, err)
		}
	}
	return tree, nil
}

var (
	// versioned mirrors the URL layout below the prefix: <token>/<logical path>
	versionedView = View{name: "versioned", leafPath: func(asset api.Asset) string {
		return fingerprint.Of(asset.Checksum.Hash).String() + "/" + asset.Path
	}}
	logicalView = View{name: "logical", leafPath: func(asset api.Asset) string {
		return asset.Path
	}}
	// cas is laid out like the disk cache: <algorithm>/cas/<xx>/<hex>
	casView = View{name: "cas", allowDuplicates: true, leafPath: func(asset api.Asset) string {
		hex := asset.Checksum.Hex()
		return asset.Checksum.Algorithm.String() + "/cas/" + hex[:2] + "/" + hex
	}}
)

var knownViews = map[string]View{
	"versioned": versionedView,
	"logical":   logicalView,
	"cas":       casView,
}
