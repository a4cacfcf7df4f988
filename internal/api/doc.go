// Package api provides the HTTP REST API and WebSocket stream for the
// projector bridge.
//
// It exposes the session's cached power state, a blocking power command,
// session statistics, the event journal and Prometheus metrics. WebSocket
// clients subscribe to power.state_changed and connection.state_changed.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
