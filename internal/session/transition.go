package session

import "github.com/goodtune/deepwork/internal/storage"

// Operation names a state machine command.
type Operation string

const (
	OpCreate   Operation = "create"
	OpStart    Operation = "start"
	OpPause    Operation = "pause"
	OpResume   Operation = "resume"
	OpComplete Operation = "complete"
)

const (
	// PauseLimit is the number of pauses a session tolerates; the next one marks it interrupted.
	PauseLimit = 3

	// OverdueFactor scales the scheduled duration into the overdue threshold.
	OverdueFactor = 1.1
)

// StartTransition returns the status entered by start.
func StartTransition(status storage.Status) (storage.Status, error) {
	if status != storage.StatusScheduled {
		return status, &InvalidTransitionError{Operation: OpStart, Status: status}
	}
	return storage.StatusActive, nil
}

// PauseTransition returns the status and pause count after a pause.
func PauseTransition(status storage.Status, pauseCount int) (storage.Status, int, error) {
	if status != storage.StatusActive {
		return status, pauseCount, &InvalidTransitionError{Operation: OpPause, Status: status}
	}

	pauseCount++
	if pauseCount > PauseLimit {
		return storage.StatusInterrupted, pauseCount, nil
	}
	return storage.StatusPaused, pauseCount, nil
}

// ResumeTransition returns the status entered by resume.
//
// Interrupted sessions are not resumable, so a session that hit the pause
// limit can no longer be resumed or completed.
func ResumeTransition(status storage.Status) (storage.Status, error) {
	switch status {
	case storage.StatusPaused, storage.StatusAbandoned:
		return storage.StatusActive, nil
	default:
		return status, &InvalidTransitionError{Operation: OpResume, Status: status}
	}
}

// CompleteTransition returns the final status of a session being completed.
// Overdue takes precedence over both completed and abandoned.
func CompleteTransition(status storage.Status, elapsedMinutes float64, started bool, scheduledDuration int) (storage.Status, error) {
	var next storage.Status
	switch status {
	case storage.StatusActive:
		next = storage.StatusCompleted
	case storage.StatusPaused:
		next = storage.StatusAbandoned
	default:
		return status, &InvalidTransitionError{Operation: OpComplete, Status: status}
	}

	if started && IsOverdue(elapsedMinutes, scheduledDuration) {
		return storage.StatusOverdue, nil
	}
	return next, nil
}

// IsOverdue reports whether elapsed minutes exceed the scheduled duration by more than OverdueFactor.
func IsOverdue(elapsedMinutes float64, scheduledDuration int) bool {
	return elapsedMinutes > float64(scheduledDuration)*OverdueFactor
}
