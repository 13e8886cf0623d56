// Package realtime implements the client for the dashboard's live
// check-in socket.
//
// One Conn owns the single long-lived connection and its three
// responsibilities:
//   - connection lifecycle: the connecting/connected/disconnected/failed
//     state machine and the downtime-scaled reconnection policy
//   - liveness: keepalive pings plus an application-level heartbeat that
//     detects stalls the transport never reports
//   - dispatch and outbound queuing: per-type subscriber fan-out, command
//     queueing across disconnects, and outbound batching of chatty types
//
// Consumers subscribe by message type and receive raw JSON payloads;
// payload types live in internal/model.
package realtime
