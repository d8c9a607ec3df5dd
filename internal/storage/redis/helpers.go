package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/deepwork/internal/storage"
)

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	id, err := strconv.ParseInt(data["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}

	scheduled, err := strconv.Atoi(data["scheduled_duration"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse scheduled_duration: %w", err)
	}

	pauseCount, err := strconv.Atoi(data["pause_count"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse pause_count: %w", err)
	}

	version, err := strconv.ParseInt(data["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}

	status, err := storage.ParseStatus(data["status"])
	if err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	startTime, err := parseOptionalTime(data["start_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}

	endTime, err := parseOptionalTime(data["end_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse end_time: %w", err)
	}

	var goal *string
	if g := data["goal"]; g != "" {
		goal = &g
	}

	return &storage.Session{
		ID:                id,
		Title:             data["title"],
		Goal:              goal,
		ScheduledDuration: scheduled,
		StartTime:         startTime,
		EndTime:           endTime,
		Status:            status,
		PauseCount:        pauseCount,
		CreatedAt:         createdAt,
		Version:           version,
	}, nil
}

// parseInterruption converts a Redis hash to Interruption
func parseInterruption(data map[string]string) (*storage.Interruption, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	id, err := strconv.ParseInt(data["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}

	sessionID, err := strconv.ParseInt(data["session_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session_id: %w", err)
	}

	pauseTime, err := time.Parse(time.RFC3339Nano, data["pause_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse pause_time: %w", err)
	}

	resumeTime, err := parseOptionalTime(data["resume_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse resume_time: %w", err)
	}

	return &storage.Interruption{
		ID:         id,
		SessionID:  sessionID,
		Reason:     data["reason"],
		PauseTime:  pauseTime,
		ResumeTime: resumeTime,
	}, nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// score is the sorted-set score for a timestamp (millisecond resolution).
func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
