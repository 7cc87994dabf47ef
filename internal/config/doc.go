// Package config loads the SDK configuration.
//
// # Configuration Sources
//
// Values are applied in this order, later sources overriding earlier ones:
//
//	1. Default()
//	2. the YAML file named by DM_CONFIG_FILE
//	3. DM_* environment variables
//
// # Environment Variables
//
// The launcher sets DM_PIPE when it starts the application. Every other
// variable is optional:
//
//	DM_PIPE=/run/launcher/app.sock
//	DM_CONNECT_TIMEOUT=5s
//	DM_PUBLIC_KEY_FILE=/etc/app/license.pem
//	DM_RETRY_MAX_ATTEMPTS=20
//	DM_LOGGING_LEVEL=debug
//	DM_STATUS_ENABLED=true
//
// # Validation
//
// Load validates with go-playground/validator and reports failures by their
// YAML names, for example "Config.retry.multiplier failed \"gte\"". All
// failures are configuration errors from dmsdk/internal/errors.
package config
