package root

import (
	"context"
	"fmt"
	"os"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/cmd/manifest"
	"github.com/tweag/asset-hashserve/cmd/mount"
	"github.com/tweag/asset-hashserve/cmd/path"
	"github.com/tweag/asset-hashserve/cmd/serve"
	"github.com/tweag/asset-hashserve/internal/logging"
)

const usage = `Usage: asset-hashserve [COMMAND] [ARGS...]

Commands:
  serve     Serve assets under fingerprinted URLs
  path      Print the versioned URL of assets
  manifest  Generate, inspect and push asset manifests
  mount     Mount the assets as a read-only filesystem`

func Run(ctx context.Context, args []string) {
	setLogLevel()
	if len(args) < 2 {
		printUsage()
	}

	command := args[1]
	switch command {
	case "serve":
		serve.Run(ctx, args[2:])
	case "path":
		path.Run(ctx, args[2:])
	case "manifest":
		manifest.Run(ctx, args[2:])
	case "mount":
		mount.Run(ctx, args[2:])
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, usage)
	os.Exit(1)
}

func setLogLevel() {
	level, ok := os.LookupEnv(api.LogLevelEnv)
	if !ok {
		return
	}
	logging.SetLevel(logging.FromString(level))
}
