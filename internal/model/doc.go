// Package model defines the message payloads of the gym realtime protocol.
//
// Conventions:
//   - JSON keys follow the dashboard backend's serializers: camelCase for
//     stats and commands, snake_case for check-in event fields
//   - IDs: uuid.UUID (members and check-ins have UUID primary keys upstream)
//   - Timestamps: RFC 3339 strings on the wire, time.Time in Go
package model
