package focus

import (
	"math"

	"github.com/goodtune/deepwork/internal/storage"
)

// ScoreSession computes the 0-100 focus score of a session, rounded to 2 decimals.
//
// Only completed sessions earn full completion credit; every other status,
// overdue included, earns half.
func ScoreSession(s storage.Session) float64 {
	completionRatio := 0.5
	if s.Status == storage.StatusCompleted {
		completionRatio = 1.0
	}

	interruptionPenalty := 0.0
	if s.ScheduledDuration > 0 {
		interruptionPenalty = math.Min(float64(s.PauseCount)/float64(s.ScheduledDuration), 1.0)
	}

	score := (1 - interruptionPenalty) * completionRatio * 100
	return round2(math.Max(0, math.Min(100, score)))
}

// ActualDuration returns the whole minutes between start and end, or nil
// unless both timestamps are set.
func ActualDuration(s storage.Session) *int {
	if s.StartTime == nil || s.EndTime == nil {
		return nil
	}
	minutes := int(s.EndTime.Sub(*s.StartTime).Minutes())
	return &minutes
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// cacheable reports whether no operation can change the session's score any more.
func cacheable(status storage.Status) bool {
	switch status {
	case storage.StatusCompleted, storage.StatusOverdue, storage.StatusInterrupted:
		return true
	}
	return false
}
