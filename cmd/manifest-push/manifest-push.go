package manifestpush

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/cmd/internal/cmdhelper"
	"github.com/tweag/asset-hashserve/internal/logging"
	"github.com/tweag/asset-hashserve/registry/manifest"
)

func Run(ctx context.Context, args []string) {
	var writeManifest bool

	flagSet := flag.NewFlagSet("push", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Uploads the configured assets to the disk cache and the remote CAS.\n")
		fmt.Fprintf(flagSet.Output(), "A server with source \"manifest\" can then load them by digest.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: asset-hashserve manifest push [ARGS...]\n")
		flagSet.PrintDefaults()
		examples := []string{
			"asset-hashserve manifest push --source=dir --asset_dir=./public --remote=grpcs://remote.example.com --write_manifest --manifest=assets.json",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
		os.Exit(1)
	}
	flagSet.BoolVar(&writeManifest, "write_manifest", false, "Also write the manifest of the pushed assets to the manifest path")
	globalConfig, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetRemote|cmdhelper.FlagPresetDiskCache)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	if flagSet.NArg() > 0 {
		cmdhelper.FatalFmt("unexpected arguments: %v", flagSet.Args())
	}
	if globalConfig.Source == api.SourceManifest {
		cmdhelper.FatalFmt(`nothing to push: source is "manifest"`)
	}

	source, err := cmdhelper.OpenSource(ctx, globalConfig)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer source.Close()

	store, closeStore, err := cmdhelper.OpenCAS(globalConfig)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	pushed, err := manifest.Push(ctx, source.Registry, store, source.DigestFunction)
	if err != nil {
		cmdhelper.FatalFmt("pushing assets: %v", err)
	}
	logging.Basicf("Pushed %d of %d assets", pushed, source.Registry.Len())

	if !writeManifest {
		return
	}
	file, err := os.Create(globalConfig.ManifestPath)
	if err != nil {
		cmdhelper.FatalFmt("creating manifest: %v", err)
	}
	defer file.Close()
	if err := manifest.Generate(source.Registry).Encode(file); err != nil {
		cmdhelper.FatalFmt("writing manifest: %v", err)
	}
	logging.Basicf("Wrote manifest %s", globalConfig.ManifestPath)
}
