package path

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tweag/asset-hashserve/assetserve"
	"github.com/tweag/asset-hashserve/cmd/internal/cmdhelper"
	"github.com/tweag/asset-hashserve/internal/logging"
)

func Run(ctx context.Context, args []string) {
	var withIntegrity bool

	flagSet := flag.NewFlagSet("path", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Prints the versioned URL of each asset, one per line.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: asset-hashserve path [ARGS...] LOGICAL_PATH...\n")
		flagSet.PrintDefaults()
		examples := []string{
			"asset-hashserve path css/style.css",
			"asset-hashserve path --source=dir --asset_dir=./public --integrity js/app.js",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
		os.Exit(1)
	}
	flagSet.BoolVar(&withIntegrity, "integrity", false, "Also print the subresource integrity string of each asset")
	globalConfig, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetRemote|cmdhelper.FlagPresetDiskCache)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	if flagSet.NArg() == 0 {
		flagSet.Usage()
	}

	source, err := cmdhelper.OpenSource(ctx, globalConfig)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer source.Close()

	builder := assetserve.NewBuilder(source.Registry, globalConfig.URLPrefix)
	missing := 0
	for _, logicalPath := range flagSet.Args() {
		url, ok := builder.Path(logicalPath)
		if !ok {
			logging.Errorf("unknown asset: %s", logicalPath)
			missing++
			continue
		}
		if withIntegrity {
			sri, _ := builder.Integrity(logicalPath)
			fmt.Printf("%s %s\n", url, sri)
		} else {
			fmt.Println(url)
		}
	}
	if missing > 0 {
		source.Close()
		os.Exit(1)
	}
}
