package cmdhelper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/auth/grpcheaderinterceptor"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/internal/logging"
	"github.com/tweag/asset-hashserve/registry"
	"github.com/tweag/asset-hashserve/registry/manifest"
	"github.com/tweag/asset-hashserve/registry/watcher"
	"github.com/tweag/asset-hashserve/service/cas"
	"github.com/tweag/asset-hashserve/web"
	"google.golang.org/grpc"
)

// Source is the registry described by a config, plus everything needed to keep it current.
type Source struct {
	Registry       *registry.Swappable
	DigestFunction integrity.Algorithm

	config  api.GlobalConfig
	loader  *manifest.Loader
	closers []func() error
}

// OpenSource builds the initial registry for the configured source.
// The caller must Close the source.
func OpenSource(ctx context.Context, config api.GlobalConfig) (*Source, error) {
	digestFunction, ok := integrity.AlgorithmFromString(config.DigestFunction)
	if !ok {
		return nil, fmt.Errorf("unsupported digest function %q", config.DigestFunction)
	}
	source := &Source{DigestFunction: digestFunction, config: config}

	var (
		initial *registry.Static
		err     error
	)
	switch config.Source {
	case api.SourceEmbedded:
		initial, err = registry.FromFS(web.Assets(), digestFunction)
	case api.SourceDir:
		initial, err = registry.FromFS(os.DirFS(config.AssetDir), digestFunction)
	case api.SourceManifest:
		var store cas.CAS
		store, err = source.openCAS(config)
		if err != nil {
			return nil, err
		}
		source.loader = manifest.NewLoader(store, digestFunction, integrity.NewCache())
		initial, err = source.loader.LoadFile(ctx, config.ManifestPath)
	default:
		err = fmt.Errorf("unknown source %q", config.Source)
	}
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("building %s registry: %w", config.Source, err)
	}
	logging.Basicf("Loaded %d assets from %s source", initial.Len(), config.Source)
	source.Registry = registry.NewSwappable(initial)
	return source, nil
}

// Watch starts reloading the registry on changes if the config asks for it.
func (s *Source) Watch(ctx context.Context, wg *sync.WaitGroup) error {
	if !s.config.WatchEnable() {
		return nil
	}
	var (
		w   *watcher.Watcher
		err error
	)
	switch s.config.Source {
	case api.SourceDir:
		w, err = watcher.ForDir(s.config.AssetDir, s.DigestFunction, s.Registry)
	case api.SourceManifest:
		w, err = watcher.ForManifest(s.config.ManifestPath, s.loader, s.Registry)
	default:
		return fmt.Errorf("cannot watch %s source", s.config.Source)
	}
	if err != nil {
		return err
	}
	w.OnSwap = func(next *registry.Static) {
		logging.Basicf("Now serving %d assets (generation %d)", next.Len(), s.Registry.Generation())
	}
	s.closers = append(s.closers, w.Stop)
	return w.Start(ctx, wg)
}

func (s *Source) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Source) openCAS(config api.GlobalConfig) (cas.CAS, error) {
	store, closer, err := OpenCAS(config)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	return store, nil
}

// OpenCAS opens the disk cache, combined with the remote CAS if one is configured.
// The returned close function is nil when there is nothing to close.
func OpenCAS(config api.GlobalConfig) (cas.CAS, func() error, error) {
	disk, err := cas.NewDisk(config.DiskCachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening disk cache: %w", err)
	}
	if config.Remote == "" {
		return disk, nil, nil
	}
	conn, err := cas.Dial(config.Remote, DialOptions(config)...)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to remote %s: %w", config.Remote, err)
	}
	logging.Debugf("Using remote CAS %s", config.Remote)
	return cas.NewCombined(disk, cas.NewRemote(conn, "")), conn.Close, nil
}

func DialOptions(config api.GlobalConfig) []grpc.DialOption {
	return grpcheaderinterceptor.DialOptions(config.RemoteHeaders)
}
