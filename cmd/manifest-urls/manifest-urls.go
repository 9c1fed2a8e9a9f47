package manifesturls

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/tweag/asset-hashserve/assetserve"
	"github.com/tweag/asset-hashserve/cmd/internal/cmdhelper"
)

func Run(ctx context.Context, args []string) {
	flagSet := flag.NewFlagSet("urls", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Prints a JSON object mapping every logical path to its versioned URL.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: asset-hashserve manifest urls [ARGS...]\n")
		flagSet.PrintDefaults()
		examples := []string{
			"asset-hashserve manifest urls --url_prefix=/assets > urls.json",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
		os.Exit(1)
	}
	globalConfig, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetRemote|cmdhelper.FlagPresetDiskCache)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	if flagSet.NArg() > 0 {
		cmdhelper.FatalFmt("unexpected arguments: %v", flagSet.Args())
	}

	source, err := cmdhelper.OpenSource(ctx, globalConfig)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer source.Close()

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(assetserve.URLs(source.Registry, globalConfig.URLPrefix)); err != nil {
		cmdhelper.FatalFmt("encoding urls as json: %v", err)
	}
}
