// Package watcher reloads a registry when its source files change.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/internal/logging"
	"github.com/tweag/asset-hashserve/registry"
	"github.com/tweag/asset-hashserve/registry/manifest"
)

// DefaultDebounce is how long the watcher waits for more events before rebuilding.
const DefaultDebounce = 100 * time.Millisecond

// Watcher rebuilds a registry on file system events and publishes it to a Swappable.
type Watcher struct {
	description   string
	root          string
	recursive     bool
	relevant      func(path string) bool
	rebuild       func(ctx context.Context) (*registry.Static, error)
	target        *registry.Swappable
	notifyWatcher *fsnotify.Watcher
	closeOnce     sync.Once

	// Debounce may be changed before Start.
	Debounce time.Duration
	// OnSwap is called after a new snapshot was published.
	OnSwap func(*registry.Static)
}

// ForDir watches every directory below dir and rebuilds the registry with registry.FromFS.
func ForDir(dir string, digestFunction integrity.Algorithm, target *registry.Swappable) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return newWatcher("asset directory "+dir, absDir, true, func(string) bool { return true },
		func(context.Context) (*registry.Static, error) {
			return registry.FromFS(os.DirFS(absDir), digestFunction)
		}, target)
}

// ForManifest watches a manifest file and reloads it with the loader.
func ForManifest(manifestPath string, loader *manifest.Loader, target *registry.Swappable) (*Watcher, error) {
	manifestAbsPath, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, err
	}
	return newWatcher("manifest "+manifestPath, filepath.Dir(manifestAbsPath), false,
		func(name string) bool { return name == manifestAbsPath },
		func(ctx context.Context) (*registry.Static, error) {
			return loader.LoadFile(ctx, manifestAbsPath)
		}, target)
}

func newWatcher(description, root string, recursive bool, relevant func(string) bool, rebuild func(context.Context) (*registry.Static, error), target *registry.Swappable) (*Watcher, error) {
	notifyWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		description:   description,
		root:          root,
		recursive:     recursive,
		relevant:      relevant,
		rebuild:       rebuild,
		target:        target,
		notifyWatcher: notifyWatcher,
		Debounce:      DefaultDebounce,
	}, nil
}

// Start watches in a background goroutine until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := w.addWatches(w.root); err != nil {
		w.Stop()
		return err
	}
	logging.Basicf("Watching %s for changes", w.description)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer w.Stop()
		defer logging.Basicf("Stopped watching %s", w.description)

		debounce := time.NewTimer(w.Debounce)
		debounce.Stop()
		defer debounce.Stop()
		for {
			select {
			case event, ok := <-w.notifyWatcher.Events:
				if !ok {
					return
				}
				if !w.relevant(event.Name) || (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) {
					continue
				}
				logging.Debugf("watcher: %s", event)
				if w.recursive && event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := w.addWatches(event.Name); err != nil {
							logging.Warningf("watching new directory %s: %v", event.Name, err)
						}
					}
				}
				debounce.Reset(w.Debounce)
			case <-debounce.C:
				if err := w.reload(ctx); err != nil {
					logging.Errorf("reloading %s - keeping previous assets: %v", w.description, err)
				}
			case err, ok := <-w.notifyWatcher.Errors:
				if !ok {
					return
				}
				logging.Errorf("watcher for %s encountered error: %v", w.description, err)
			case <-ctx.Done():
				return // context cancelled, call stop in defer
			}
		}
	}()
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() (closeErr error) {
	w.closeOnce.Do(func() {
		closeErr = w.notifyWatcher.Close()
	})
	return closeErr
}

func (w *Watcher) addWatches(dir string) error {
	if !w.recursive {
		return w.notifyWatcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// removed while walking
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.notifyWatcher.Add(path)
	})
}

func (w *Watcher) reload(ctx context.Context) error {
	next, err := w.rebuild(ctx)
	if err != nil {
		return err
	}
	if registry.Equal(w.target.Snapshot(), next) {
		logging.Debugf("%s is unchanged, skipping update", w.description)
		return nil
	}
	w.target.Swap(next)
	logging.Basicf("%s changed, now serving %d assets", w.description, next.Len())
	if w.OnSwap != nil {
		w.OnSwap(next)
	}
	return nil
}
