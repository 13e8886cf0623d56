// Package poller implements the REST stats fallback.
//
// The stats poller:
//   - Polls GET /api/admin/stats/ on a fixed interval
//   - Stays idle while the realtime socket is connected
//   - Delivers check-in stats through a handler callback
package poller
