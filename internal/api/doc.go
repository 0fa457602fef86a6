// Package api implements the HTTP REST API and WebSocket server for CardPass.
//
// This package provides:
//   - REST endpoints for reader CRUD and connection control
//   - Device commands (open, restart, admin protocol commands)
//   - Site-wide emergency fan-out over TCP and UDP broadcast
//   - WebSocket hub relaying connection manager notifications
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// Every route is served from the connection manager's registry; writes go
// through the manager so the store, registry and drivers stay consistent.
// Notifications from the manager are relayed to WebSocket clients
// subscribed to reader.state_changed, reader.event, reader.capacity or
// reader.removed.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Graceful Degradation
//
// The event log and UDP broadcaster are optional. Routes that need them
// answer 503 when they are not configured.
package api
