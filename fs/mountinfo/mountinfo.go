// Package mountinfo lists the mounts of the current process to detect existing asset filesystems.
package mountinfo

import (
	"path/filepath"

	"github.com/tweag/asset-hashserve/api"
)

// Mount is one line of a mountinfo table. See proc_pid_mountinfo(5).
type Mount struct {
	ID       int
	ParentID int
	// Root is the directory of the filesystem that is mounted.
	Root       string
	MountPoint string
	Options    map[string]string
	// Propagation holds the optional fields, such as "shared:1" or "unbindable".
	Propagation  map[string]string
	FSType       string
	Source       string
	SuperOptions map[string]string
}

// IsAssetHashserve reports whether the mount is a FUSE view of this program.
func (m Mount) IsAssetHashserve() bool {
	return m.FSType == api.FSType
}

type Table []Mount

// MountPoint finds the most recent mount at path. Relative paths are resolved against the working directory.
func (t Table) MountPoint(path string) (Mount, bool) {
	path, err := filepath.Abs(path)
	if err != nil {
		return Mount{}, false
	}
	// later entries shadow earlier mounts at the same point
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].MountPoint == path {
			return t[i], true
		}
	}
	return Mount{}, false
}
