// Package ws implements the WebSocket hub that streams the total_kilometers
// measurement to dashboards.
//
// New(source, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker; it blocks until ctx is cancelled,
// then closes all active connections. SetInterval retunes a running hub.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// measurement immediately on connect, then streams it on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "sensor",
//	  "data":  { /* same schema as GET /api/v1/sensor */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The hub is mounted at /ws/stream by the api package.
package ws
