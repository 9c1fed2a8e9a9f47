package api

// Environment variables used by asset-hashserve.
const (
	// LogLevelEnv is the environment variable used to set the log level.
	LogLevelEnv = "ASSET_HASHSERVE_LOGGING"
	// ConfigFileEnv is the environment variable used to set the configuration file.
	ConfigFileEnv = "ASSET_HASHSERVE_CONFIG_FILE"
)

// DefaultConfigFile is read from the working directory when no config is named explicitly.
const DefaultConfigFile = ".asset-hashserve.json"

// FSName and FSType identify mounts of the FUSE view in /proc/self/mountinfo.
const (
	FSName = "asset-hashserve"
	FSType = "fuse." + FSName
)
