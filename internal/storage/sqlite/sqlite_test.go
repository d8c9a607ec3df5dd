package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/deepwork/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory()
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSession(title string, createdAt time.Time) *storage.Session {
	return &storage.Session{
		Title:             title,
		ScheduledDuration: 45,
		Status:            storage.StatusScheduled,
		CreatedAt:         createdAt,
	}
}

func TestNewMemory(t *testing.T) {
	s := newTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != currentVersion {
		t.Fatalf("expected user_version %d, got %d", currentVersion, version)
	}
}

func TestOpenWithPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "deepwork.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	session := newSession("persisted", time.Now().UTC())
	if err := s.Sessions().Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = s.Close()

	// Reopening must not re-run migrations or lose data
	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.Sessions().Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Title != "persisted" {
		t.Errorf("expected title persisted, got %s", got.Title)
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 5, 6, 7, 8, 9, 987654321, time.UTC)
	session := newSession("Write", created)
	if err := s.Sessions().Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID == 0 || session.Version != 1 {
		t.Fatalf("expected assigned id and version 1, got id=%d version=%d", session.ID, session.Version)
	}

	got, err := s.Sessions().Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Goal != nil {
		t.Errorf("expected absent goal, got %q", *got.Goal)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %v, got %v", created, got.CreatedAt)
	}
	if got.ScheduledDuration != 45 {
		t.Errorf("expected scheduled_duration 45, got %d", got.ScheduledDuration)
	}

	if _, err := s.Sessions().Get(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	offsets := []time.Duration{2 * time.Hour, 0, time.Hour, time.Hour}
	for i, off := range offsets {
		if err := s.Sessions().Create(ctx, newSession(string(rune('a'+i)), base.Add(off))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := s.Sessions().List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a", "d", "c", "b"}
	for i, session := range all {
		if session.Title != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], session.Title)
		}
	}

	since, err := s.Sessions().ListCreatedSince(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	want = []string{"c", "d", "a"}
	if len(since) != len(want) {
		t.Fatalf("expected %d sessions, got %d", len(want), len(since))
	}
	for i, session := range since {
		if session.Title != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], session.Title)
		}
	}
}

func TestCommitPauseResume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessions := s.Sessions()

	created := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	session := newSession("Focus", created)
	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	start := created.Add(time.Minute)
	next := *session
	next.Status = storage.StatusActive
	next.StartTime = &start
	change := &storage.Change{Session: next}
	if err := sessions.Commit(ctx, change); err != nil {
		t.Fatalf("commit start: %v", err)
	}

	pausedAt := start.Add(20 * time.Minute)
	next = change.Session
	next.Status = storage.StatusPaused
	next.PauseCount = 1
	change = &storage.Change{Session: next, Opened: &storage.Interruption{Reason: "email", PauseTime: pausedAt}}
	if err := sessions.Commit(ctx, change); err != nil {
		t.Fatalf("commit pause: %v", err)
	}
	if change.Opened.ID == 0 || change.Opened.SessionID != session.ID {
		t.Fatalf("expected interruption ids to be assigned, got %+v", change.Opened)
	}

	open, err := sessions.OpenInterruption(ctx, session.ID)
	if err != nil {
		t.Fatalf("open interruption: %v", err)
	}
	if open.ID != change.Opened.ID {
		t.Errorf("expected open interruption %d, got %d", change.Opened.ID, open.ID)
	}

	resumedAt := pausedAt.Add(3 * time.Minute)
	next = change.Session
	next.Status = storage.StatusActive
	closed := *open
	closed.ResumeTime = &resumedAt
	if err := sessions.Commit(ctx, &storage.Change{Session: next, Closed: &closed}); err != nil {
		t.Fatalf("commit resume: %v", err)
	}

	if _, err := sessions.OpenInterruption(ctx, session.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected no open interruption, got %v", err)
	}

	interruptions, err := sessions.Interruptions(ctx, session.ID)
	if err != nil {
		t.Fatalf("interruptions: %v", err)
	}
	if len(interruptions) != 1 || interruptions[0].ResumeTime == nil || !interruptions[0].ResumeTime.Equal(resumedAt) {
		t.Fatalf("unexpected interruptions: %+v", interruptions)
	}

	got, _ := sessions.Get(ctx, session.ID)
	if got.Version != 4 || got.PauseCount != 1 || got.Status != storage.StatusActive {
		t.Errorf("unexpected session: version=%d pause_count=%d status=%s", got.Version, got.PauseCount, got.Status)
	}
}

func TestCommitConflictAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessions := s.Sessions()

	session := newSession("Race", time.Now().UTC())
	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	winner := *session
	winner.Status = storage.StatusActive
	if err := sessions.Commit(ctx, &storage.Change{Session: winner}); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	loser := *session
	loser.Status = storage.StatusPaused
	loser.PauseCount = 1
	err := sessions.Commit(ctx, &storage.Change{
		Session: loser,
		Opened:  &storage.Interruption{Reason: "late", PauseTime: time.Now().UTC()},
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The rejected change must not leave an interruption behind
	interruptions, _ := sessions.Interruptions(ctx, session.ID)
	if len(interruptions) != 0 {
		t.Errorf("expected no interruptions, got %d", len(interruptions))
	}

	missing := storage.Session{ID: 404, Version: 1, Status: storage.StatusActive}
	if err := sessions.Commit(ctx, &storage.Change{Session: missing}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessions := s.Sessions()

	session := newSession("Cascade", time.Now().UTC())
	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	next := *session
	next.Status = storage.StatusPaused
	next.PauseCount = 1
	if err := sessions.Commit(ctx, &storage.Change{
		Session: next,
		Opened:  &storage.Interruption{Reason: "door", PauseTime: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if ok, err := sessions.Exists(ctx, session.ID); err != nil || !ok {
		t.Fatalf("expected session to exist, got %v, %v", ok, err)
	}
	if err := sessions.Delete(ctx, session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, err := sessions.Exists(ctx, session.ID); err != nil || ok {
		t.Errorf("expected session to be gone, got %v, %v", ok, err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM interruptions`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected interruptions to cascade, %d remain", count)
	}

	if err := sessions.Delete(ctx, session.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := sessions.Interruptions(ctx, session.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted session, got %v", err)
	}
}

func TestListCreatedSinceInclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessions := s.Sessions()

	bound := time.Date(2024, 6, 3, 12, 0, 0, 500, time.UTC)
	if err := sessions.Create(ctx, newSession("edge", bound)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := sessions.Create(ctx, newSession("before", bound.Add(-time.Nanosecond))); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := sessions.ListCreatedSince(ctx, bound)
	if err != nil {
		t.Fatalf("list created since: %v", err)
	}
	if len(got) != 1 || got[0].Title != "edge" {
		t.Fatalf("expected only the session created at the bound, got %d", len(got))
	}
}

func TestDeleteCreatedBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, created := range []time.Time{
		cutoff.Add(-72 * time.Hour),
		cutoff.Add(-time.Nanosecond),
		cutoff,
		cutoff.Add(time.Minute),
	} {
		if err := s.Sessions().Create(ctx, newSession("s", created)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	deleted, err := s.Sessions().DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	remaining, _ := s.Sessions().List(ctx)
	if len(remaining) != 2 {
		t.Errorf("expected 2 remaining, got %d", len(remaining))
	}
}
