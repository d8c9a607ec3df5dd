package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/deepwork/internal/config"
	"github.com/goodtune/deepwork/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port is left unset
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "test",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func newSession(title string, createdAt time.Time) *storage.Session {
	return &storage.Session{
		Title:             title,
		ScheduledDuration: 60,
		Status:            storage.StatusScheduled,
		CreatedAt:         createdAt,
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	goal := "Draft chapter two"
	created := time.Date(2024, 3, 4, 9, 0, 0, 123456789, time.UTC)
	session := newSession("Write", created)
	session.Goal = &goal

	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.ID != 1 {
		t.Errorf("Expected ID 1, got %d", session.ID)
	}
	if session.Version != 1 {
		t.Errorf("Expected version 1, got %d", session.Version)
	}

	retrieved, err := sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if retrieved.Title != "Write" {
		t.Errorf("Expected title Write, got %s", retrieved.Title)
	}
	if retrieved.Goal == nil || *retrieved.Goal != goal {
		t.Errorf("Expected goal %q, got %v", goal, retrieved.Goal)
	}
	if !retrieved.CreatedAt.Equal(created) {
		t.Errorf("Expected created_at %v, got %v", created, retrieved.CreatedAt)
	}
	if retrieved.StartTime != nil || retrieved.EndTime != nil {
		t.Error("Expected start and end time to be absent")
	}
	if retrieved.Status != storage.StatusScheduled {
		t.Errorf("Expected status scheduled, got %s", retrieved.Status)
	}
}

func TestSessionStore_GetNotFound(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Sessions().Get(context.Background(), 42)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_ListOrdering(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	for i, title := range []string{"first", "second", "third"} {
		if err := sessions.Create(ctx, newSession(title, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	all, err := sessions.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(all))
	}
	if all[0].Title != "third" || all[2].Title != "first" {
		t.Errorf("Expected newest first, got %s..%s", all[0].Title, all[2].Title)
	}

	since, err := sessions.ListCreatedSince(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ListCreatedSince failed: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(since))
	}
	if since[0].Title != "second" || since[1].Title != "third" {
		t.Errorf("Expected oldest first, got %s, %s", since[0].Title, since[1].Title)
	}
}

func TestSessionStore_ListCreatedSinceSubMillisecond(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	created := time.Date(2024, 3, 4, 9, 0, 0, 500, time.UTC)
	if err := sessions.Create(ctx, newSession("edge", created)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Same millisecond score, but strictly after the creation instant
	got, err := sessions.ListCreatedSince(ctx, created.Add(time.Nanosecond))
	if err != nil {
		t.Fatalf("ListCreatedSince failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no sessions, got %d", len(got))
	}
}

func TestSessionStore_ListCreatedSinceInclusive(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	created := time.Date(2024, 3, 4, 9, 0, 0, 500, time.UTC)
	if err := sessions.Create(ctx, newSession("edge", created)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := sessions.Create(ctx, newSession("before", created.Add(-time.Nanosecond))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := sessions.ListCreatedSince(ctx, created)
	if err != nil {
		t.Fatalf("ListCreatedSince failed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "edge" {
		t.Fatalf("Expected only the session created at the bound, got %d", len(got))
	}
	if !got[0].CreatedAt.Equal(created) {
		t.Errorf("Expected created_at %v, got %v", created, got[0].CreatedAt)
	}
}

func TestSessionStore_Exists(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	session := newSession("Deep work", time.Now().UTC())
	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ok, err := sessions.Exists(ctx, session.ID)
	if err != nil || !ok {
		t.Fatalf("Expected session to exist, got %v, %v", ok, err)
	}

	if err := sessions.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ok, err = sessions.Exists(ctx, session.ID)
	if err != nil || ok {
		t.Errorf("Expected session to be gone, got %v, %v", ok, err)
	}
}

func TestSessionStore_CommitLifecycle(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	created := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	session := newSession("Deep work", created)
	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Start
	start := created.Add(time.Minute)
	started := *session
	started.Status = storage.StatusActive
	started.StartTime = &start
	change := &storage.Change{Session: started}
	if err := sessions.Commit(ctx, change); err != nil {
		t.Fatalf("Commit start failed: %v", err)
	}
	if change.Session.Version != 2 {
		t.Errorf("Expected version 2 after commit, got %d", change.Session.Version)
	}

	// Pause
	pausedAt := start.Add(10 * time.Minute)
	paused := change.Session
	paused.Status = storage.StatusPaused
	paused.PauseCount = 1
	change = &storage.Change{
		Session: paused,
		Opened:  &storage.Interruption{Reason: "slack", PauseTime: pausedAt},
	}
	if err := sessions.Commit(ctx, change); err != nil {
		t.Fatalf("Commit pause failed: %v", err)
	}
	if change.Opened.ID == 0 {
		t.Error("Expected interruption ID to be assigned")
	}
	if change.Opened.SessionID != session.ID {
		t.Errorf("Expected interruption session_id %d, got %d", session.ID, change.Opened.SessionID)
	}

	open, err := sessions.OpenInterruption(ctx, session.ID)
	if err != nil {
		t.Fatalf("OpenInterruption failed: %v", err)
	}
	if open.Reason != "slack" {
		t.Errorf("Expected reason slack, got %s", open.Reason)
	}

	// Resume
	resumedAt := pausedAt.Add(5 * time.Minute)
	resumed := change.Session
	resumed.Status = storage.StatusActive
	closed := *open
	closed.ResumeTime = &resumedAt
	change = &storage.Change{Session: resumed, Closed: &closed}
	if err := sessions.Commit(ctx, change); err != nil {
		t.Fatalf("Commit resume failed: %v", err)
	}

	if _, err := sessions.OpenInterruption(ctx, session.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no open interruption, got %v", err)
	}

	interruptions, err := sessions.Interruptions(ctx, session.ID)
	if err != nil {
		t.Fatalf("Interruptions failed: %v", err)
	}
	if len(interruptions) != 1 {
		t.Fatalf("Expected 1 interruption, got %d", len(interruptions))
	}
	if interruptions[0].ResumeTime == nil || !interruptions[0].ResumeTime.Equal(resumedAt) {
		t.Errorf("Expected resume time %v, got %v", resumedAt, interruptions[0].ResumeTime)
	}

	stored, err := sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != storage.StatusActive || stored.PauseCount != 1 || stored.Version != 4 {
		t.Errorf("Unexpected stored session: status=%s pause_count=%d version=%d",
			stored.Status, stored.PauseCount, stored.Version)
	}
}

func TestSessionStore_CommitConflict(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	session := newSession("Race", time.Now().UTC())
	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first := *session
	first.Status = storage.StatusActive
	if err := sessions.Commit(ctx, &storage.Change{Session: first}); err != nil {
		t.Fatalf("First commit failed: %v", err)
	}

	// Second writer still holds version 1
	second := *session
	second.Status = storage.StatusAbandoned
	err := sessions.Commit(ctx, &storage.Change{Session: second})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	stored, _ := sessions.Get(ctx, session.ID)
	if stored.Status != storage.StatusActive {
		t.Errorf("Expected losing write to be discarded, got status %s", stored.Status)
	}
}

func TestSessionStore_CommitMissingSession(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	err := store.Sessions().Commit(context.Background(), &storage.Change{
		Session: storage.Session{ID: 9, Version: 1, Status: storage.StatusActive},
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_DeleteCascades(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	session := newSession("Cascade", time.Now().UTC())
	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	paused := *session
	paused.Status = storage.StatusPaused
	paused.PauseCount = 1
	change := &storage.Change{
		Session: paused,
		Opened:  &storage.Interruption{Reason: "door", PauseTime: time.Now().UTC()},
	}
	if err := sessions.Commit(ctx, change); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := sessions.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if mr.Exists("test:interruption:1") {
		t.Error("Expected interruption hash to be deleted")
	}
	if _, err := sessions.Get(ctx, session.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if _, err := sessions.Interruptions(ctx, session.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for interruptions of deleted session, got %v", err)
	}
	if err := sessions.Delete(ctx, session.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSessionStore_DeleteCreatedBefore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, created := range []time.Time{
		cutoff.Add(-48 * time.Hour),
		cutoff.Add(-time.Nanosecond),
		cutoff,
		cutoff.Add(time.Hour),
	} {
		if err := sessions.Create(ctx, newSession("s", created)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	deleted, err := sessions.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteCreatedBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted sessions, got %d", deleted)
	}

	remaining, _ := sessions.List(ctx)
	if len(remaining) != 2 {
		t.Errorf("Expected 2 remaining sessions, got %d", len(remaining))
	}
}
