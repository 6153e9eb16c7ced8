// Package api implements the agent's HTTP surface on a chi router.
//
// New(source, opts) returns an http.Handler that serves:
//
//	GET  /api/v1/sensor       the total_kilometers measurement
//	GET  /api/v1/status       coordinator state, last error, counters
//	GET  /api/v1/diagnostics  health score, hints, portal certificate
//	GET  /api/v1/alerts       firing and recently resolved alerts
//	POST /api/v1/refresh      start a refresh now (202; API-key protected)
//	GET  /metrics             Prometheus text exposition
//	GET  /ws/stream           WebSocket stream, when a hub is supplied
//
// JSON endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. JSON types are defined in types.go.
package api
