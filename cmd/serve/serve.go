package serve

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tweag/asset-hashserve/assetserve"
	"github.com/tweag/asset-hashserve/cmd/internal/cmdhelper"
	"github.com/tweag/asset-hashserve/internal/logging"
	"github.com/tweag/asset-hashserve/server"
	"github.com/tweag/asset-hashserve/web"
)

const shutdownTimeout = 10 * time.Second

func Run(ctx context.Context, args []string) {
	wg := &sync.WaitGroup{}
	defer wg.Wait()

	flagSet := flag.NewFlagSet("serve", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Serves assets under fingerprinted URLs.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: asset-hashserve serve [ARGS...]\n")
		flagSet.PrintDefaults()
		examples := []string{
			"asset-hashserve serve",
			"asset-hashserve serve --source=dir --asset_dir=./public --watch",
			"asset-hashserve serve --source=manifest --manifest=./assets.json --remote=grpcs://remote.example.com",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
		os.Exit(1)
	}
	globalConfig, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetRemote|cmdhelper.FlagPresetDiskCache|cmdhelper.FlagPresetServe)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	if flagSet.NArg() > 0 {
		cmdhelper.FatalFmt("unexpected arguments: %v", flagSet.Args())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := cmdhelper.OpenSource(ctx, globalConfig)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer source.Close()
	if err := source.Watch(ctx, wg); err != nil {
		cmdhelper.FatalFmt("watching assets: %v", err)
	}

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := server.NewMetrics(metricsRegistry)
	metrics.RegisterAssetCount(source.Registry.Len)

	assets := assetserve.NewHandler(source.Registry, globalConfig.URLPrefix, assetserve.WithObserver(metrics.ObserveAssets()))

	srv := server.New(globalConfig.ListenAddress)
	srv.Handle(assets.Pattern(), assets)
	srv.Handle("GET /{$}", web.NewIndex(source.Registry, globalConfig.URLPrefix))
	srv.Handle("GET /metrics", metrics.Handler())
	middleware := []server.Middleware{server.RequestID, server.Recovery, server.Logger, metrics.Middleware}
	if globalConfig.GzipEnable() {
		middleware = append(middleware, server.Gzip)
	}
	srv.Use(middleware...)

	if err := srv.Listen(); err != nil {
		cmdhelper.FatalFmt("listening on %s: %v", globalConfig.ListenAddress, err)
	}
	logging.Basicf("Serving %d assets at http://%s%s/", source.Registry.Len(), srv.Addr(), assets.Mount())

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	select {
	case err := <-served:
		if err != nil {
			logging.Errorf("server stopped: %v", err)
		}
	case <-ctx.Done():
		logging.Basicf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Errorf("graceful shutdown failed: %v", err)
		}
	}
}
