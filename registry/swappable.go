package registry

import (
	"iter"
	"sync/atomic"

	"github.com/tweag/asset-hashserve/api"
)

// Swappable publishes immutable snapshots of a registry.
// Readers see either the old or the new snapshot, never a mix.
type Swappable struct {
	current atomic.Pointer[Static]
	// generation counts swaps, starting at 1 for the initial snapshot.
	generation atomic.Uint64
}

func NewSwappable(initial *Static) *Swappable {
	s := &Swappable{}
	s.Swap(initial)
	return s
}

// Swap replaces the snapshot and returns the previous one.
func (s *Swappable) Swap(next *Static) *Static {
	if next == nil {
		next = MustStatic()
	}
	prev := s.current.Swap(next)
	s.generation.Add(1)
	return prev
}

// Snapshot returns the current registry. It never changes after being returned.
func (s *Swappable) Snapshot() *Static {
	return s.current.Load()
}

func (s *Swappable) Generation() uint64 {
	return s.generation.Load()
}

func (s *Swappable) Get(path string) (api.Asset, bool) {
	return s.Snapshot().Get(path)
}

func (s *Swappable) Assets() iter.Seq[api.Asset] {
	return s.Snapshot().Assets()
}

func (s *Swappable) Len() int {
	return s.Snapshot().Len()
}

var _ api.ListableRegistry = (*Swappable)(nil)
