package config

import "time"

// Environment contract shared with the launcher
const (
	// EnvPrefix namespaces every environment variable read by Load.
	EnvPrefix = "DM"
	// PipeEnv names the launcher endpoint. The launcher sets it when it
	// starts the application.
	PipeEnv = "DM_PIPE"
	// ConfigFileEnv names an optional YAML configuration file.
	ConfigFileEnv = "DM_CONFIG_FILE"
)

// Timeouts
const (
	DefaultConnectTimeout = 5000 * time.Millisecond
	DefaultWaitTimeout    = 30000 * time.Millisecond
)

// Application Info
const (
	AppName = "dmsdk"
	// AppVersion is reported by the launcher simulator and the CLI.
	AppVersion = "1.0.0"
)
