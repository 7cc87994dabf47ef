// Package app wires the SDK for a process started by the launcher.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, DM_CONFIG_FILE and DM_* variables
//	2. Initialize logging and OpenTelemetry
//	3. Parse the launcher public key and build the dmapi.API
//	4. Build the status server when status.enabled is set
//
// Start connects to the launcher, verifies the license (activating it with
// backoff when needed), sends initiated and binds the status listener.
// Serve then runs the websocket hub, the status server and the update
// watcher under one errgroup; the first failure stops the others.
//
// # Graceful Shutdown
//
// Run handles SIGINT and SIGTERM: the status server drains within
// status.shutdown_timeout, websocket clients are closed, the launcher
// connection is closed and telemetry is flushed.
//
// The package never calls os.Exit; errors are returned to main.
package app
