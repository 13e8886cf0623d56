package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Server-pushed event types.
const (
	TypeMemberCheckedIn      = "member_checked_in"
	TypeMemberCheckedOut     = "member_checked_out"
	TypeStatsUpdate          = "stats_update"
	TypeInitialStats         = "initial_stats"
	TypeActivityNotification = "activity_notification"
)

// Client command types. Both are queueable while disconnected.
const (
	TypeCheckIn  = "check_in"
	TypeCheckOut = "check_out"
)

// TypeConnectionStatus is the reserved subscription type for local
// connection state changes. It never appears on the wire.
const TypeConnectionStatus = "connection_status"

// MemberRef identifies a member inside an event payload.
type MemberRef struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
}

// CheckInEvent is the payload of member_checked_in and member_checked_out.
type CheckInEvent struct {
	ID           uuid.UUID  `json:"id"`
	Member       MemberRef  `json:"member"`
	CheckInTime  time.Time  `json:"check_in_time"`
	CheckOutTime *time.Time `json:"check_out_time"`
	Status       string     `json:"status"` // "checked_in" or "checked_out"
}

// CheckInStats is the payload of initial_stats and stats_update.
type CheckInStats struct {
	CurrentlyIn        int `json:"currentlyIn"`
	TodayTotal         int `json:"todayTotal"`
	AverageStayMinutes int `json:"averageStayMinutes"`
}

// ActivityNotification is the payload of activity_notification.
type ActivityNotification struct {
	MemberName string    `json:"memberName"`
	Action     string    `json:"action"` // "check_in" or "check_out"
	Timestamp  time.Time `json:"timestamp"`
}

// CheckInCommand is the data of an outbound check_in command.
type CheckInCommand struct {
	MemberID uuid.UUID `json:"memberId"`
	Location string    `json:"location,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// CheckOutCommand is the data of an outbound check_out command.
type CheckOutCommand struct {
	CheckInID uuid.UUID `json:"checkInId"`
	Notes     string    `json:"notes,omitempty"`
}

// DecodeCheckInEvent parses a member_checked_in/member_checked_out payload.
func DecodeCheckInEvent(raw json.RawMessage) (CheckInEvent, error) {
	var ev CheckInEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return CheckInEvent{}, fmt.Errorf("decode check-in event: %w", err)
	}
	return ev, nil
}

// DecodeStats parses an initial_stats/stats_update payload.
func DecodeStats(raw json.RawMessage) (CheckInStats, error) {
	var s CheckInStats
	if err := json.Unmarshal(raw, &s); err != nil {
		return CheckInStats{}, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}

// DecodeActivity parses an activity_notification payload.
func DecodeActivity(raw json.RawMessage) (ActivityNotification, error) {
	var n ActivityNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return ActivityNotification{}, fmt.Errorf("decode activity: %w", err)
	}
	return n, nil
}
