package manifest

import (
	"context"
	"fmt"
	"os"

	manifestgenerate "github.com/tweag/asset-hashserve/cmd/manifest-generate"
	manifestpush "github.com/tweag/asset-hashserve/cmd/manifest-push"
	manifesturls "github.com/tweag/asset-hashserve/cmd/manifest-urls"
)

const usage = `Usage: asset-hashserve manifest [COMMAND] [ARGS...]

Commands:
  generate  Write a manifest describing the configured assets
  urls      Print the versioned URL of every asset as JSON
  push      Upload the configured assets to the CAS`

func Run(ctx context.Context, args []string) {
	if len(args) < 1 {
		printUsage()
	}

	command := args[0]
	switch command {
	case "generate":
		manifestgenerate.Run(ctx, args[1:])
	case "urls":
		manifesturls.Run(ctx, args[1:])
	case "push":
		manifestpush.Run(ctx, args[1:])
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, usage)
	os.Exit(1)
}
