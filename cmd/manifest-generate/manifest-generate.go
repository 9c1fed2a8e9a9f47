package manifestgenerate

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tweag/asset-hashserve/cmd/internal/cmdhelper"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/internal/logging"
	"github.com/tweag/asset-hashserve/registry/manifest"
)

func Run(ctx context.Context, args []string) {
	var extraIntegrity string
	var output string

	flagSet := flag.NewFlagSet("generate", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Writes a manifest describing the configured assets.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: asset-hashserve manifest generate [ARGS...]\n")
		flagSet.PrintDefaults()
		examples := []string{
			"asset-hashserve manifest generate --source=dir --asset_dir=./public > assets.json",
			"asset-hashserve manifest generate --source=dir --asset_dir=./public --extra_integrity=sha384,sha512 --output=assets.json",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
		os.Exit(1)
	}
	flagSet.StringVar(&extraIntegrity, "extra_integrity", "", "Comma separated list of additional algorithms to include in each integrity list")
	flagSet.StringVar(&output, "output", "-", `File to write the manifest to. "-" is stdout`)
	globalConfig, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetRemote|cmdhelper.FlagPresetDiskCache)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	if flagSet.NArg() > 0 {
		cmdhelper.FatalFmt("unexpected arguments: %v", flagSet.Args())
	}

	extraAlgorithms, err := parseAlgorithms(extraIntegrity)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}

	source, err := cmdhelper.OpenSource(ctx, globalConfig)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer source.Close()

	m := manifest.Generate(source.Registry, extraAlgorithms...)
	if err := writeManifest(m, output); err != nil {
		cmdhelper.FatalFmt("writing manifest: %v", err)
	}
	logging.Debugf("Wrote %d manifest entries to %s", len(m), output)
}

func parseAlgorithms(list string) ([]integrity.Algorithm, error) {
	var out []integrity.Algorithm
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		alg, ok := integrity.AlgorithmFromString(name)
		if !ok {
			return nil, fmt.Errorf("unsupported algorithm %q", name)
		}
		out = append(out, alg)
	}
	return out, nil
}

func writeManifest(m manifest.Manifest, output string) error {
	var w io.Writer = os.Stdout
	if output != "-" {
		file, err := os.Create(output)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	return m.Encode(w)
}
