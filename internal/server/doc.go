// Package server provides the HTTP API for the item store.
//
// This package is internal to itemstore and handles all HTTP concerns:
//
//   - REST API: JSON endpoints under "/api" that run store operations and
//     return the resulting state
//   - Server-Sent Events: Real-time state snapshots at "/api/sse"
//   - WebSocket: The same snapshots as JSON text frames at "/api/ws"
//
// Operations run with the request context, so a client that disconnects
// mid-latency cancels its operation. The server supports graceful shutdown
// via context cancellation, with a 5-second timeout for in-flight requests.
package server
