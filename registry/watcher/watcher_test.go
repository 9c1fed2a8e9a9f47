package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tweag/asset-hashserve/assetserve"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/registry"
	"github.com/tweag/asset-hashserve/registry/manifest"
	"github.com/tweag/asset-hashserve/registry/watcher"
	"github.com/tweag/asset-hashserve/service/cas"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startWatcher(t *testing.T, w *watcher.Watcher) {
	t.Helper()
	w.Debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if err := w.Start(ctx, &wg); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func TestDirWatcherInvalidatesOldURLs(t *testing.T) {
	dir := t.TempDir()
	stylePath := filepath.Join(dir, "style.css")
	if err := os.WriteFile(stylePath, []byte("body{color:red}"), 0o644); err != nil {
		t.Fatal(err)
	}
	initial, err := registry.FromFS(os.DirFS(dir), integrity.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	live := registry.NewSwappable(initial)
	w, err := watcher.ForDir(dir, integrity.SHA256, live)
	if err != nil {
		t.Fatal(err)
	}
	startWatcher(t, w)

	handler := assetserve.NewHandler(live, "/static")
	oldURL, _ := assetserve.Path(live, "/static", "style.css")

	if err := os.WriteFile(stylePath, []byte("body{color:blue}"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "modified asset", func() bool {
		asset, _ := live.Get("style.css")
		return string(asset.Data) == "body{color:blue}"
	})

	_, err = handler.Resolve(oldURL[len("/static/"):])
	if rejection, ok := assetserve.AsRejection(err); !ok || rejection.Reason != assetserve.ReasonHashMismatch {
		t.Fatalf("old url should be a hash mismatch, got %v", err)
	}
	newURL, _ := assetserve.Path(live, "/static", "style.css")
	if _, err := handler.Resolve(newURL[len("/static/"):]); err != nil {
		t.Fatalf("new url rejected: %v", err)
	}

	// files in new subdirectories are picked up too
	if err := os.MkdirAll(filepath.Join(dir, "js"), 0o755); err != nil {
		t.Fatal(err)
	}
	// give the watcher time to add the new directory
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "js", "app.js"), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "asset in new directory", func() bool {
		_, ok := live.Get("js/app.js")
		return ok
	})
}

func TestManifestWatcher(t *testing.T) {
	ctx := context.Background()
	disk, err := cas.NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	v1 := registry.MustStatic(registry.NewAsset("app.js", []byte("v1"), integrity.SHA256))
	v2 := registry.MustStatic(registry.NewAsset("app.js", []byte("v2"), integrity.SHA256))
	for _, r := range []*registry.Static{v1, v2} {
		if _, err := manifest.Push(ctx, r, disk, integrity.SHA256); err != nil {
			t.Fatal(err)
		}
	}

	manifestPath := filepath.Join(t.TempDir(), "manifest.json")
	writeManifest := func(r *registry.Static) {
		file, err := os.Create(manifestPath)
		if err != nil {
			t.Fatal(err)
		}
		defer file.Close()
		if err := manifest.Generate(r).Encode(file); err != nil {
			t.Fatal(err)
		}
	}
	writeManifest(v1)

	loader := manifest.NewLoader(disk, integrity.SHA256, nil)
	initial, err := loader.LoadFile(ctx, manifestPath)
	if err != nil {
		t.Fatal(err)
	}
	live := registry.NewSwappable(initial)
	w, err := watcher.ForManifest(manifestPath, loader, live)
	if err != nil {
		t.Fatal(err)
	}
	var mux sync.Mutex
	swaps := 0
	w.OnSwap = func(*registry.Static) {
		mux.Lock()
		defer mux.Unlock()
		swaps++
	}
	startWatcher(t, w)

	// other files in the directory are ignored
	if err := os.WriteFile(filepath.Join(filepath.Dir(manifestPath), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeManifest(v2)
	waitFor(t, "manifest reload", func() bool {
		asset, _ := live.Get("app.js")
		return string(asset.Data) == "v2"
	})

	// a broken manifest keeps the previous snapshot
	if err := os.WriteFile(manifestPath, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if asset, _ := live.Get("app.js"); string(asset.Data) != "v2" {
		t.Fatalf("broken manifest replaced assets: %q", asset.Data)
	}
	mux.Lock()
	defer mux.Unlock()
	if swaps != 1 {
		t.Fatalf("expected 1 swap, got %d", swaps)
	}
}
