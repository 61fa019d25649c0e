// Package api provides the HTTP REST API and WebSocket server for
// Status Core.
//
// It accepts status events over HTTP (mirroring the MQTT event topic),
// exposes the controller's live status and the recent audit trail, and
// streams controller lifecycle notifications to WebSocket clients.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
