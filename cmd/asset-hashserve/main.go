package main

import (
	"context"
	"os"

	"github.com/tweag/asset-hashserve/cmd/root"
)

func main() {
	root.Run(context.Background(), os.Args)
}
