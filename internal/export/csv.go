package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goodtune/deepwork/internal/focus"
)

// Header lists the CSV columns in output order.
var Header = []string{
	"id", "title", "goal", "scheduled_duration", "actual_duration",
	"status", "pause_count", "start_time", "end_time", "created_at",
}

// WriteCSV writes the session history as CSV. Absent values are empty cells.
func WriteCSV(w io.Writer, history []focus.HistoryEntry) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, e := range history {
		goal := ""
		if e.Goal != nil {
			goal = *e.Goal
		}
		actual := ""
		if e.ActualDuration != nil {
			actual = strconv.Itoa(*e.ActualDuration)
		}

		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.Title,
			goal,
			strconv.Itoa(e.ScheduledDuration),
			actual,
			string(e.Status),
			strconv.Itoa(e.PauseCount),
			formatOptional(e.StartTime),
			formatOptional(e.EndTime),
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for session %d: %w", e.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
