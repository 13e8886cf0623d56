package recorder

import (
	"encoding/json"
	"time"
)

// Config contains configuration for the event recorder.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial capacity of the event buffer.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     200,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// Event is a raw realtime event pending persistence.
type Event struct {
	Type       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// eventRow represents a row to be inserted into the check_in_events table.
type eventRow struct {
	EventID      string // check-in record UUID
	EventType    string // member_checked_in or member_checked_out
	MemberID     string // UUID
	MemberName   string
	CheckInTime  time.Time
	CheckOutTime *time.Time
	Status       string
	ReceivedAt   time.Time
}

// Metrics holds recorder metrics.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}
