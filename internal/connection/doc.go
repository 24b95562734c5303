// Package connection implements the transport session: one resilient
// websocket to one venue.
//
// A Session:
//   - Walks DISCONNECTED -> CONNECTING -> AUTHENTICATING -> SUBSCRIBED
//   - Drops to DEGRADED on transport errors or missed heartbeats and reconnects with backoff
//   - Resets backoff after a stable period in SUBSCRIBED
//   - Re-issues the desired subscription set after every reconnect
//   - Hands every inbound frame to a venue Handler; it never parses payloads
package connection
