package api

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var ErrConfigNotFound = errors.New("config file not found")

// Asset sources.
const (
	SourceEmbedded = "embedded"
	SourceDir      = "dir"
	SourceManifest = "manifest"
)

// GlobalConfig is the configuration for asset-hashserve.
// It can be read from a JSON file or passed as command-line flags.
// This configuration is shared by all subcommands.
type GlobalConfig struct {
	// DigestFunction is the hash function used to compute the digest of an asset.
	// Fingerprints are a prefix of this digest.
	// It is also used by the remote- and local CAS to reference blobs.
	DigestFunction string `json:"digest_function,omitempty"`
	// Source selects where assets come from: "embedded", "dir" or "manifest".
	Source string `json:"source,omitempty"`
	// AssetDir is the directory served when source is "dir".
	AssetDir string `json:"asset_dir,omitempty"`
	// Watch reloads the asset directory or manifest when it changes.
	Watch *bool `json:"watch,omitempty"`
	// The path to the manifest file, used when source is "manifest".
	ManifestPath string `json:"manifest_path,omitempty"`
	// The path to the local (disk) cache directory holding manifest blobs.
	DiskCachePath string `json:"disk_cache,omitempty"`
	// The grpc(s) endpoint of the REAPI server providing the remote content-addressable storage.
	// Optional. Blobs missing from the disk cache are fetched from here.
	// Example: "grpcs://remote.buildbuddy.io"
	// Example: "grpc://localhost:8980" (for unencrypted connections - not recommended)
	Remote string `json:"remote,omitempty"`
	// Extra headers sent with every remote call, such as authorization.
	RemoteHeaders map[string]string `json:"remote_headers,omitempty"`
	// Address of the HTTP server.
	ListenAddress string `json:"listen_address,omitempty"`
	// URLPrefix is the path under which versioned assets are served.
	URLPrefix string `json:"url_prefix,omitempty"`
	// Compress asset responses with gzip when the client accepts it.
	Gzip *bool `json:"gzip,omitempty"`
	// Emits debug information about the FUSE filesystem.
	FUSEDebug *bool `json:"fuse_debug,omitempty"`
	// Log level. One of "error", "warning", "basic", "debug".
	// Note that some messages are always printed, regardless of the log level (e.g. errors).
	// Default: "basic"
	LogLevel string `json:"log_level,omitempty"`
}

func (c GlobalConfig) Validate() error {
	issues := []string{}
	switch c.DigestFunction {
	case "sha256", "sha384", "sha512", "blake3": // allowed
	case "":
		issues = append(issues, `digest_function must be provided`)
	default:
		issues = append(issues, `digest_function must be one of "sha256", "sha384", "sha512", "blake3"`)
	}
	switch c.Source {
	case SourceEmbedded:
	case SourceDir:
		if c.AssetDir == "" {
			issues = append(issues, `asset_dir must be provided when source is "dir"`)
		}
	case SourceManifest:
		if c.ManifestPath == "" {
			issues = append(issues, `manifest_path must be provided when source is "manifest"`)
		}
		if c.DiskCachePath == "" {
			issues = append(issues, `disk_cache must be provided when source is "manifest"`)
		}
	default:
		issues = append(issues, `source must be one of "embedded", "dir", "manifest"`)
	}
	if c.WatchEnable() && c.Source == SourceEmbedded {
		issues = append(issues, `watch is not supported when source is "embedded"`)
	}
	if c.Remote != "" && !slices.Contains([]string{"grpcs", "grpc"}, strings.Split(c.Remote, "://")[0]) {
		issues = append(issues, `remote must start with "grpcs://" or "grpc://"`)
	}
	for _, name := range slices.Sorted(maps.Keys(c.RemoteHeaders)) {
		if name == "" || strings.ContainsAny(name, " :\t\n") {
			issues = append(issues, fmt.Sprintf("remote_headers contains invalid header name %q", name))
		}
	}
	if !strings.HasPrefix(c.URLPrefix, "/") {
		issues = append(issues, `url_prefix must start with "/"`)
	}
	if strings.ContainsAny(c.URLPrefix, "{}") {
		issues = append(issues, `url_prefix must not contain pattern wildcards`)
	}
	switch c.LogLevel {
	case "error", "warning", "basic", "debug": // allowed
	default:
		issues = append(issues, `log_level must be one of "error", "warning", "basic", "debug"`)
	}

	if len(issues) > 0 {
		return errors.New("config validation failed: \n  " + strings.Join(issues, "\n  "))
	}
	return nil
}

func (c GlobalConfig) FUSEDebugEnable() bool {
	return c.FUSEDebug != nil && *c.FUSEDebug
}

func (c GlobalConfig) WatchEnable() bool {
	return c.Watch != nil && *c.Watch
}

func (c GlobalConfig) GzipEnable() bool {
	return c.Gzip != nil && *c.Gzip
}

type ConfigReader interface {
	Read(baseConfig GlobalConfig) (GlobalConfig, error)
}

func ReadConfig(reader ConfigReader, config GlobalConfig) (GlobalConfig, error) {
	return reader.Read(config)
}

func DefaultConfig() GlobalConfig {
	return GlobalConfig{
		DigestFunction: "sha256",
		Source:         SourceEmbedded,
		ManifestPath:   "manifest.json",
		DiskCachePath:  "~/.cache/asset-hashserve",
		ListenAddress:  "localhost:8080",
		URLPrefix:      "/static",
		LogLevel:       "basic",
	}
}
