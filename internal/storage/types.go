package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a focus session.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusActive      Status = "active"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusAbandoned   Status = "abandoned"
	StatusOverdue     Status = "overdue"
)

// Statuses lists every session status in lifecycle order.
var Statuses = []Status{
	StatusScheduled,
	StatusActive,
	StatusPaused,
	StatusCompleted,
	StatusInterrupted,
	StatusAbandoned,
	StatusOverdue,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus normalizes and validates a status string.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("invalid status: %q", s)
	}
	return status, nil
}

// UnmarshalJSON implements json.Unmarshaler to reject unknown statuses.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	status, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// Session is a scheduled or in-progress unit of focused work.
type Session struct {
	ID                int64      `json:"id"`
	Title             string     `json:"title"`
	Goal              *string    `json:"goal"`
	ScheduledDuration int        `json:"scheduled_duration"` // minutes
	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	Status            Status     `json:"status"`
	PauseCount        int        `json:"pause_count"`
	CreatedAt         time.Time  `json:"created_at"`

	// Version is bumped on every commit and guards against lost updates.
	Version int64 `json:"-"`
}

// Interruption records one pause/resume cycle of a session.
type Interruption struct {
	ID         int64      `json:"id"`
	SessionID  int64      `json:"session_id"`
	Reason     string     `json:"reason"`
	PauseTime  time.Time  `json:"pause_time"`
	ResumeTime *time.Time `json:"resume_time"`
}

// IsOpen reports whether the interruption has not been resumed yet.
func (i *Interruption) IsOpen() bool {
	return i.ResumeTime == nil
}

// Change is the unit of work committed atomically by a SessionStore.
//
// Session.Version must hold the version the change was computed from. At most
// one of Opened and Closed is set.
type Change struct {
	Session Session
	Opened  *Interruption // inserted; ID is assigned on commit
	Closed  *Interruption // existing record whose ResumeTime is now set
}

// LatestOpen returns the open interruption with the latest pause time, or nil.
func LatestOpen(interruptions []Interruption) *Interruption {
	var latest *Interruption
	for i := range interruptions {
		in := &interruptions[i]
		if !in.IsOpen() {
			continue
		}
		if latest == nil || in.PauseTime.After(latest.PauseTime) ||
			(in.PauseTime.Equal(latest.PauseTime) && in.ID > latest.ID) {
			latest = in
		}
	}
	if latest == nil {
		return nil
	}
	found := *latest
	return &found
}
