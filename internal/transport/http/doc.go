// Package http implements the optional local status server.
//
// The server listens on a loopback address and exposes what the SDK knows
// about the launcher session:
//
//	GET  /health                  session and license summary
//	GET  /api/v1/license          latest license outcome, no signed contents
//	GET  /api/v1/update/state     current update lifecycle snapshot
//	POST /api/v1/update/check     forwards check_for_updates
//	POST /api/v1/update/download  forwards download_update
//	GET  /ws/update               update:state push stream
//	GET  /metrics                 Prometheus exposition
//
// Errors are RFC 7807 problem documents. Their detail text never says
// which license check failed.
package http
