// Package recorder persists realtime check-in events to PostgreSQL.
//
// Events flow from the realtime connection into a growable buffer, then a
// batch writer inserts them into the check_in_events table. Inserts are
// append-only with ON CONFLICT DO NOTHING, so replayed events after a
// reconnect deduplicate on (event_id, event_type).
package recorder
