package retention

import (
	"context"
	"testing"
	"time"

	"github.com/goodtune/deepwork/internal/session"
	"github.com/goodtune/deepwork/internal/storage"
	"github.com/goodtune/deepwork/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

type countingPurger struct {
	calls int
}

func (p *countingPurger) Purge() { p.calls++ }

func TestNewSchedulerValidation(t *testing.T) {
	tests := []struct {
		name    string
		maxAge  int
		runTime string
		wantErr bool
	}{
		{"valid", 30, "03:00", false},
		{"zero age", 0, "03:00", true},
		{"bad run time", 30, "3am", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(nil, nil, tt.maxAge, tt.runTime, nil, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	s, err := NewScheduler(nil, nil, 1, "03:30", nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	before := time.Date(2024, 6, 3, 1, 0, 0, 0, time.UTC)
	if got := s.nextRun(before); !got.Equal(time.Date(2024, 6, 3, 3, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected same-day run, got %v", got)
	}

	after := time.Date(2024, 6, 3, 4, 0, 0, 0, time.UTC)
	if got := s.nextRun(after); !got.Equal(time.Date(2024, 6, 4, 3, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected next-day run, got %v", got)
	}
}

func TestRunOnce(t *testing.T) {
	store, err := sqlite.NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, 29 * 24 * time.Hour, time.Hour} {
		s := &storage.Session{
			Title:             "s",
			ScheduledDuration: 30,
			Status:            storage.StatusScheduled,
			CreatedAt:         now.Add(-age),
		}
		if err := store.Sessions().Create(ctx, s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	purger := &countingPurger{}
	clock := &session.TestClock{CurrentTime: now}
	s, err := NewScheduler(store.Sessions(), purger, 30, "03:00", clock, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	deleted, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted sessions, got %d", deleted)
	}
	if purger.calls != 1 {
		t.Errorf("Expected cache purge after deletion, got %d calls", purger.calls)
	}

	remaining, _ := store.Sessions().List(ctx)
	if len(remaining) != 2 {
		t.Errorf("Expected 2 remaining sessions, got %d", len(remaining))
	}

	// Nothing left to delete, so the cache is kept
	if deleted, _ := s.RunOnce(ctx); deleted != 0 {
		t.Errorf("Expected nothing to delete, got %d", deleted)
	}
	if purger.calls != 1 {
		t.Errorf("Expected no extra purge, got %d calls", purger.calls)
	}
}
