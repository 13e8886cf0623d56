// Package database provides the PostgreSQL connection pool for recorded
// check-in events.
package database
