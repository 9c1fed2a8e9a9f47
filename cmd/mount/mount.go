package mount

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goFUSEfs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/cmd/internal/cmdhelper"
	"github.com/tweag/asset-hashserve/fs"
	"github.com/tweag/asset-hashserve/fs/mountinfo"
	"github.com/tweag/asset-hashserve/internal/logging"
)

func Run(ctx context.Context, args []string) {
	var viewName string

	flagSet := flag.NewFlagSet("mount", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Mounts the configured assets as a read-only filesystem at the specified mountpoint.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: asset-hashserve mount [ARGS...] MOUNTPOINT\n")
		flagSet.PrintDefaults()
		examples := []string{
			"asset-hashserve mount ./mnt",
			"asset-hashserve mount --view=logical --source=manifest --manifest=assets.json ./mnt",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
		os.Exit(1)
	}
	flagSet.StringVar(&viewName, "view", "versioned", "Directory layout of the mounted assets. Allowed values: ["+strings.Join(fs.ViewNames(), ", ")+"]")
	globalConfig, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetRemote|cmdhelper.FlagPresetDiskCache|cmdhelper.FlagPresetFUSE)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
	}
	mountPoint := flagSet.Arg(0)

	view, ok := fs.ViewFromString(viewName)
	if !ok {
		cmdhelper.FatalFmt("invalid view: %s", viewName)
	}
	if mounts, err := mountinfo.Read(); err == nil {
		if info, ok := mounts.MountPoint(mountPoint); ok && info.IsAssetHashserve() {
			cmdhelper.FatalFmt("%s is already mounted", mountPoint)
		}
	}

	source, err := cmdhelper.OpenSource(ctx, globalConfig)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	// the mounted tree is a snapshot, so the source is not needed afterwards
	source.Close()

	root, err := fs.Root(source.Registry.Snapshot(), view, globalConfig.URLPrefix, time.Now())
	if err != nil {
		cmdhelper.FatalFmt("building %s view: %v", view, err)
	}

	opts := goFUSEfs.Options{
		EntryTimeout: &defaultGoFUSETimeout,
		AttrTimeout:  &defaultGoFUSETimeout,
		MountOptions: fuse.MountOptions{
			Debug:                globalConfig.FUSEDebugEnable(),
			IgnoreSecurityLabels: true,
			FsName:               api.FSName,
			Name:                 api.FSName,
			EnableLocks:          false,
		},
	}

	logging.Basicf("Mounting %d assets (%s view) at %s", source.Registry.Len(), view, mountPoint)
	server, err := goFUSEfs.Mount(mountPoint, root, &opts)
	if err != nil {
		cmdhelper.FatalFmt("mounting %s: %v", mountPoint, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logging.Basicf("Unmounting %s", mountPoint)
		if err := server.Unmount(); err != nil {
			logging.Errorf("unmounting %s: %v", mountPoint, err)
		}
	}()

	server.Wait()
}

var defaultGoFUSETimeout = time.Second
