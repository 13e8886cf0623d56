// Package api provides the dashboard REST API client.
//
// Endpoints used:
//   - POST /api/token/ obtains a JWT session (access + refresh)
//   - POST /api/token/refresh/ rotates the access token
//   - GET /api/admin/stats/ reads dashboard statistics
//
// The realtime socket is handled separately by the realtime package; this
// client covers session management and the polling fallback.
package api
