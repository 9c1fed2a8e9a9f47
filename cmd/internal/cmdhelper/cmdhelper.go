package cmdhelper

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/internal/logging"
)

func FatalFmt(format string, args ...any) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

// OSConfigReader reads a JSON config file. Comments and trailing commas are allowed.
type OSConfigReader struct {
	ConfigPath string
}

func (r OSConfigReader) Read(config api.GlobalConfig) (api.GlobalConfig, error) {
	raw, err := os.ReadFile(r.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, api.ErrConfigNotFound
		}
		return config, err
	}
	return decodeConfig(bytes.NewReader(jsonc.ToJSON(raw)), config)
}

func decodeConfig(r io.Reader, config api.GlobalConfig) (api.GlobalConfig, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		return config, err
	}
	return config, nil
}

func SubstituteHome(p string) string {
	if len(p) == 0 || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + p[1:]
}

type FlagPreset uint

const (
	FlagPresetNone   FlagPreset = 0
	FlagPresetRemote FlagPreset = 1 << iota
	FlagPresetDiskCache
	FlagPresetServe
	FlagPresetFUSE
)

type flagConfig struct {
	api.GlobalConfig
	// redefine any bool flags to satisfy flagset.BoolVar
	Watch     bool
	Gzip      bool
	FUSEDebug bool
}

func globalFlags(flagSet *flag.FlagSet, preset FlagPreset) *flagConfig {
	config := &flagConfig{}
	flagSet.StringVar(&config.DigestFunction, "digest_function", "", `Hash function used to fingerprint assets and to reference blobs in the CAS. One of "sha256", "sha384", "sha512", "blake3"`)
	flagSet.StringVar(&config.Source, "source", "", `Where assets come from. One of "embedded", "dir", "manifest"`)
	flagSet.StringVar(&config.AssetDir, "asset_dir", "", `Directory served when source is "dir"`)
	flagSet.StringVar(&config.ManifestPath, "manifest", "", `Path to the manifest file, used when source is "manifest"`)
	flagSet.StringVar(&config.URLPrefix, "url_prefix", "", "Path under which versioned assets are served")
	flagSet.StringVar(&config.LogLevel, "log_level", "", `Log level. one of "error", "warning", "basic", "debug"`)

	if preset&FlagPresetDiskCache != 0 {
		flagSet.StringVar(&config.DiskCachePath, "disk_cache", "", "Path to the local (disk) cache directory")
	}
	if preset&FlagPresetRemote != 0 {
		flagSet.StringVar(&config.Remote, "remote", "", "grpc(s) endpoint of the REAPI server")
		flagSet.Func("remote_header", "Header sent with every remote call, as NAME=VALUE. May be repeated", func(header string) error {
			name, value, ok := strings.Cut(header, "=")
			if !ok {
				return errors.New("expected NAME=VALUE")
			}
			if config.RemoteHeaders == nil {
				config.RemoteHeaders = map[string]string{}
			}
			config.RemoteHeaders[name] = value
			return nil
		})
	}
	if preset&FlagPresetServe != 0 {
		flagSet.StringVar(&config.ListenAddress, "listen_address", "", "Address of the HTTP server")
		flagSet.BoolVar(&config.Watch, "watch", false, "Reload assets when the asset directory or manifest changes")
		flagSet.BoolVar(&config.Gzip, "gzip", false, "Compress responses for clients that accept gzip")
	}
	if preset&FlagPresetFUSE != 0 {
		flagSet.BoolVar(&config.FUSEDebug, "fuse_debug", false, "Emits debug information about the FUSE filesystem")
	}
	return config
}

// InjectGlobalFlagsAndConfigure parses args and merges the result over the config file.
// The config file is named by -config, ASSET_HASHSERVE_CONFIG_FILE, or is .asset-hashserve.json if present.
func InjectGlobalFlagsAndConfigure(args []string, flagSet *flag.FlagSet, preset FlagPreset) (api.GlobalConfig, error) {
	var configPath string
	ignoreMissing := true

	if configPathEnv, ok := os.LookupEnv(api.ConfigFileEnv); ok {
		configPath = configPathEnv
		ignoreMissing = false
	}
	flagSet.Func("config", "Path to the config file", func(configPathFlag string) error {
		configPath = configPathFlag
		ignoreMissing = false
		return nil
	})

	flagConfig := globalFlags(flagSet, preset)
	if err := flagSet.Parse(args); err != nil {
		return api.GlobalConfig{}, err
	}
	logLevelFlag := false
	// fixup any bool vars
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log_level":
			logLevelFlag = true
		case "watch":
			flagConfig.GlobalConfig.Watch = &flagConfig.Watch
		case "gzip":
			flagConfig.GlobalConfig.Gzip = &flagConfig.Gzip
		case "fuse_debug":
			flagConfig.GlobalConfig.FUSEDebug = &flagConfig.FUSEDebug
		}
	})

	fileConfig, err := readConfigFileOrDefault(configPath, ignoreMissing)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	config, err := mergeConfigs(fileConfig, flagConfig.GlobalConfig)
	if err != nil {
		return api.GlobalConfig{}, err
	}
	config.DiskCachePath = SubstituteHome(config.DiskCachePath)
	if envLevel, ok := os.LookupEnv(api.LogLevelEnv); ok && !logLevelFlag {
		// the environment wins over the config file, but not over the flag
		config.LogLevel = logging.FromString(envLevel).String()
	}

	logging.SetLevel(logging.FromString(config.LogLevel))
	return config, config.Validate()
}

func readConfigFileOrDefault(configPath string, ignoreMissing bool) (api.GlobalConfig, error) {
	config := api.DefaultConfig()

	if ignoreMissing && configPath == "" {
		// default config (parse if exists)
		configPath = api.DefaultConfigFile
	}
	configReader := OSConfigReader{ConfigPath: configPath}
	config, err := api.ReadConfig(configReader, config)
	if ignoreMissing && err == api.ErrConfigNotFound {
		return config, nil
	} else if err != nil {
		return api.GlobalConfig{}, fmt.Errorf("reading config from %s: %w", configPath, err)
	}
	return config, nil
}

// mergeConfigs overlays every field that is set in overlay onto base.
// Header maps are merged key by key.
func mergeConfigs(base, overlay api.GlobalConfig) (api.GlobalConfig, error) {
	overlayJSON, err := json.Marshal(overlay)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	merged := base
	if base.RemoteHeaders != nil {
		merged.RemoteHeaders = make(map[string]string, len(base.RemoteHeaders))
		for k, v := range base.RemoteHeaders {
			merged.RemoteHeaders[k] = v
		}
	}
	return decodeConfig(bytes.NewReader(overlayJSON), merged)
}
