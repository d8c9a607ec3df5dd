package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/deepwork/internal/focus"
	"github.com/goodtune/deepwork/internal/storage"
)

func TestWriteCSV(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Minute)
	goal := "ship it, today"
	actual := 42

	history := []focus.HistoryEntry{
		{
			Session: storage.Session{
				ID: 2, Title: "Review", ScheduledDuration: 30,
				Status: storage.StatusScheduled, CreatedAt: start.Add(time.Hour),
			},
		},
		{
			Session: storage.Session{
				ID: 1, Title: "Write", Goal: &goal, ScheduledDuration: 45,
				StartTime: &start, EndTime: &end,
				Status: storage.StatusCompleted, PauseCount: 1, CreatedAt: start,
			},
			ActualDuration: &actual,
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, history); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d", len(records))
	}

	if strings.Join(records[0], ",") != "id,title,goal,scheduled_duration,actual_duration,status,pause_count,start_time,end_time,created_at" {
		t.Errorf("Unexpected header: %v", records[0])
	}

	pending := records[1]
	if pending[0] != "2" || pending[2] != "" || pending[4] != "" || pending[7] != "" || pending[8] != "" {
		t.Errorf("Expected empty cells for absent values, got %v", pending)
	}

	done := records[2]
	want := []string{"1", "Write", "ship it, today", "45", "42", "completed", "1",
		"2024-06-03T09:00:00Z", "2024-06-03T09:42:00Z", "2024-06-03T09:00:00Z"}
	for i := range want {
		if done[i] != want[i] {
			t.Errorf("Column %s: expected %q, got %q", Header[i], want[i], done[i])
		}
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != strings.Join(Header, ",") {
		t.Errorf("Expected header only, got %q", got)
	}
}
