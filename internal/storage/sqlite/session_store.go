package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/deepwork/internal/storage"
)

const sessionColumns = `id, title, goal, scheduled_duration, start_time, end_time, status, pause_count, created_at, version`

const interruptionColumns = `id, session_id, reason, pause_time, resume_time`

type sessionStore struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*storage.Session, error) {
	var (
		s                  storage.Session
		goal               sql.NullString
		startTime, endTime sql.NullString
		status, createdAt  string
	)

	err := row.Scan(&s.ID, &s.Title, &goal, &s.ScheduledDuration, &startTime, &endTime,
		&status, &s.PauseCount, &createdAt, &s.Version)
	if err != nil {
		return nil, err
	}

	if goal.Valid {
		s.Goal = &goal.String
	}

	if s.Status, err = storage.ParseStatus(status); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.StartTime, err = parseOptionalTime(startTime); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if s.EndTime, err = parseOptionalTime(endTime); err != nil {
		return nil, fmt.Errorf("parse end_time: %w", err)
	}
	return &s, nil
}

func scanInterruption(row rowScanner) (*storage.Interruption, error) {
	var (
		in         storage.Interruption
		pauseTime  string
		resumeTime sql.NullString
	)

	if err := row.Scan(&in.ID, &in.SessionID, &in.Reason, &pauseTime, &resumeTime); err != nil {
		return nil, err
	}

	var err error
	if in.PauseTime, err = parseTime(pauseTime); err != nil {
		return nil, fmt.Errorf("parse pause_time: %w", err)
	}
	if in.ResumeTime, err = parseOptionalTime(resumeTime); err != nil {
		return nil, fmt.Errorf("parse resume_time: %w", err)
	}
	return &in, nil
}

// Create stores a new session and assigns its ID
func (s *sessionStore) Create(ctx context.Context, session *storage.Session) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (title, goal, scheduled_duration, start_time, end_time, status, pause_count, created_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		session.Title, session.Goal, session.ScheduledDuration,
		formatOptionalTime(session.StartTime), formatOptionalTime(session.EndTime),
		string(session.Status), session.PauseCount, formatTime(session.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	session.ID = id
	session.Version = 1
	return nil
}

// Exists reports whether a session is stored
func (s *sessionStore) Exists(ctx context.Context, id int64) (bool, error) {
	err := s.exists(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id int64) (*storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return session, nil
}

// List returns every session, newest first
func (s *sessionStore) List(ctx context.Context) ([]storage.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id DESC`)
}

// ListCreatedSince returns sessions created at or after since, oldest first
func (s *sessionStore) ListCreatedSince(ctx context.Context, since time.Time) ([]storage.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE created_at >= ? ORDER BY created_at ASC, id ASC`,
		formatTime(since))
}

func (s *sessionStore) querySessions(ctx context.Context, query string, args ...any) ([]storage.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []storage.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// Interruptions returns the interruptions owned by a session, oldest first
func (s *sessionStore) Interruptions(ctx context.Context, sessionID int64) ([]storage.Interruption, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+interruptionColumns+` FROM interruptions WHERE session_id = ? ORDER BY pause_time ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list interruptions: %w", err)
	}
	defer rows.Close()

	interruptions := []storage.Interruption{}
	for rows.Next() {
		in, err := scanInterruption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interruption: %w", err)
		}
		interruptions = append(interruptions, *in)
	}
	return interruptions, rows.Err()
}

// OpenInterruption returns the most recently opened interruption that has not been resumed
func (s *sessionStore) OpenInterruption(ctx context.Context, sessionID int64) (*storage.Interruption, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+interruptionColumns+` FROM interruptions
		 WHERE session_id = ? AND resume_time IS NULL
		 ORDER BY pause_time DESC, id DESC LIMIT 1`,
		sessionID)
	in, err := scanInterruption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open interruption: %w", err)
	}
	return in, nil
}

// Commit atomically applies a change inside one transaction
func (s *sessionStore) Commit(ctx context.Context, change *storage.Change) error {
	session := change.Session

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, pause_count = ?, start_time = ?, end_time = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(session.Status), session.PauseCount,
		formatOptionalTime(session.StartTime), formatOptionalTime(session.EndTime),
		session.ID, session.Version,
	)
	if err != nil {
		return fmt.Errorf("update session %d: %w", session.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %d: %w", session.ID, err)
	}
	if affected == 0 {
		var found int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, session.ID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check session %d: %w", session.ID, err)
		}
		return storage.ErrConflict
	}

	var openedID int64
	switch {
	case change.Opened != nil:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO interruptions (session_id, reason, pause_time, resume_time) VALUES (?, ?, ?, NULL)`,
			session.ID, change.Opened.Reason, formatTime(change.Opened.PauseTime),
		)
		if err != nil {
			return fmt.Errorf("insert interruption: %w", err)
		}
		if openedID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert interruption: %w", err)
		}
	case change.Closed != nil:
		res, err := tx.ExecContext(ctx,
			`UPDATE interruptions SET resume_time = ? WHERE id = ? AND session_id = ?`,
			formatOptionalTime(change.Closed.ResumeTime), change.Closed.ID, session.ID,
		)
		if err != nil {
			return fmt.Errorf("close interruption %d: %w", change.Closed.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("close interruption %d: %w", change.Closed.ID, err)
		} else if n == 0 {
			return storage.ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %d: %w", session.ID, err)
	}

	change.Session.Version++
	if change.Opened != nil {
		change.Opened.ID = openedID
		change.Opened.SessionID = session.ID
	}
	return nil
}

// Delete removes a session; interruptions follow via ON DELETE CASCADE
func (s *sessionStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %d: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteCreatedBefore removes sessions (and their interruptions) created before cutoff
func (s *sessionStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete sessions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sessionStore) exists(ctx context.Context, id int64) error {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session %d: %w", id, err)
	}
	return nil
}
