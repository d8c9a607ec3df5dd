package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConflict is returned when a commit races another commit to the same session.
	ErrConflict = errors.New("storage: session was modified concurrently")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sessions() SessionStore
}

// SessionStore persists sessions together with the interruptions they own.
//
// Deleting a session deletes all of its interruptions.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id int64) (*Session, error)
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) ([]Session, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]Session, error)
	Interruptions(ctx context.Context, sessionID int64) ([]Interruption, error)
	OpenInterruption(ctx context.Context, sessionID int64) (*Interruption, error)
	Commit(ctx context.Context, change *Change) error
	Delete(ctx context.Context, id int64) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// SortNewestFirst orders sessions by creation time descending, then ID descending.
func SortNewestFirst(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})
}

// SortOldestFirst orders sessions by creation time ascending, then ID ascending.
func SortOldestFirst(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// SortByPauseTime orders interruptions by pause time ascending, then ID ascending.
func SortByPauseTime(interruptions []Interruption) {
	sort.SliceStable(interruptions, func(i, j int) bool {
		if !interruptions[i].PauseTime.Equal(interruptions[j].PauseTime) {
			return interruptions[i].PauseTime.Before(interruptions[j].PauseTime)
		}
		return interruptions[i].ID < interruptions[j].ID
	})
}
