package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/deepwork/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
	keys   keyspace
	commit *redis.Script
	delete *redis.Script
}

// Create stores a new session and assigns its ID
func (s *sessionStore) Create(ctx context.Context, session *storage.Session) error {
	id, err := s.client.Incr(ctx, s.keys.sessionSeq()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate session id: %w", err)
	}

	goal := ""
	if session.Goal != nil {
		goal = *session.Goal
	}

	fields := map[string]interface{}{
		"id":                 id,
		"title":              session.Title,
		"goal":               goal,
		"scheduled_duration": session.ScheduledDuration,
		"start_time":         formatOptionalTime(session.StartTime),
		"end_time":           formatOptionalTime(session.EndTime),
		"status":             string(session.Status),
		"pause_count":        session.PauseCount,
		"created_at":         formatTime(session.CreatedAt),
		"version":            1,
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keys.session(id), fields)
		pipe.ZAdd(ctx, s.keys.createdIndex(), redis.Z{Score: score(session.CreatedAt), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	session.ID = id
	session.Version = 1
	return nil
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id int64) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, s.keys.session(id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSession(data)
}

// Exists reports whether a session is stored
func (s *sessionStore) Exists(ctx context.Context, id int64) (bool, error) {
	n, err := s.client.Exists(ctx, s.keys.session(id)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// List returns every session, newest first
func (s *sessionStore) List(ctx context.Context) ([]storage.Session, error) {
	ids, err := s.client.ZRevRange(ctx, s.keys.createdIndex(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	sessions, err := s.loadSessions(ctx, ids)
	if err != nil {
		return nil, err
	}

	storage.SortNewestFirst(sessions)
	return sessions, nil
}

// ListCreatedSince returns sessions created at or after since, oldest first
func (s *sessionStore) ListCreatedSince(ctx context.Context, since time.Time) ([]storage.Session, error) {
	// Scores are truncated to milliseconds; the exact bound is applied below
	ids, err := s.client.ZRangeByScore(ctx, s.keys.createdIndex(), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	candidates, err := s.loadSessions(ctx, ids)
	if err != nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(candidates))
	for _, session := range candidates {
		if !session.CreatedAt.Before(since) {
			sessions = append(sessions, session)
		}
	}

	storage.SortOldestFirst(sessions)
	return sessions, nil
}

// Interruptions returns the interruptions owned by a session, oldest first
func (s *sessionStore) Interruptions(ctx context.Context, sessionID int64) ([]storage.Interruption, error) {
	exists, err := s.client.Exists(ctx, s.keys.session(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, storage.ErrNotFound
	}

	ids, err := s.client.ZRange(ctx, s.keys.sessionInterruptions(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Interruption{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.interruptionPrefix()+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	interruptions := make([]storage.Interruption, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		interruption, err := parseInterruption(data)
		if err != nil {
			return nil, err
		}
		interruptions = append(interruptions, *interruption)
	}

	storage.SortByPauseTime(interruptions)
	return interruptions, nil
}

// OpenInterruption returns the most recently opened interruption that has not been resumed
func (s *sessionStore) OpenInterruption(ctx context.Context, sessionID int64) (*storage.Interruption, error) {
	interruptions, err := s.Interruptions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	open := storage.LatestOpen(interruptions)
	if open == nil {
		return nil, storage.ErrNotFound
	}
	return open, nil
}

// Commit atomically applies a change via commitSessionScript
func (s *sessionStore) Commit(ctx context.Context, change *storage.Change) error {
	session := change.Session

	mode := "none"
	interruptionID := int64(0)
	reason, pauseTime, resumeTime := "", "", ""
	pauseScore := "0"

	switch {
	case change.Opened != nil:
		id, err := s.client.Incr(ctx, s.keys.interruptionSeq()).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate interruption id: %w", err)
		}
		mode = "open"
		interruptionID = id
		reason = change.Opened.Reason
		pauseTime = formatTime(change.Opened.PauseTime)
		pauseScore = strconv.FormatInt(change.Opened.PauseTime.UnixMilli(), 10)
	case change.Closed != nil:
		mode = "close"
		interruptionID = change.Closed.ID
		resumeTime = formatOptionalTime(change.Closed.ResumeTime)
	}

	keys := []string{
		s.keys.session(session.ID),
		s.keys.sessionInterruptions(session.ID),
		s.keys.interruption(interruptionID),
	}
	args := []interface{}{
		session.Version,
		string(session.Status),
		session.PauseCount,
		formatOptionalTime(session.StartTime),
		formatOptionalTime(session.EndTime),
		mode,
		interruptionID,
		session.ID,
		reason,
		pauseTime,
		resumeTime,
		pauseScore,
	}

	result, err := s.commit.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return fmt.Errorf("failed to commit session %d: %w", session.ID, err)
	}

	switch result {
	case "OK":
	case "NOT_FOUND":
		return storage.ErrNotFound
	case "CONFLICT":
		return storage.ErrConflict
	default:
		return fmt.Errorf("unexpected commit result for session %d: %s", session.ID, result)
	}

	change.Session.Version++
	if change.Opened != nil {
		change.Opened.ID = interruptionID
		change.Opened.SessionID = session.ID
	}
	return nil
}

// Delete removes a session and all of its interruptions
func (s *sessionStore) Delete(ctx context.Context, id int64) error {
	deleted, err := s.runDelete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteCreatedBefore removes sessions (and their interruptions) created before cutoff
func (s *sessionStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.createdIndex(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	candidates, err := s.loadSessions(ctx, ids)
	if err != nil {
		return 0, err
	}

	deletedCount := 0
	for _, session := range candidates {
		if !session.CreatedAt.Before(cutoff) {
			continue
		}

		deleted, err := s.runDelete(ctx, session.ID)
		if err != nil {
			return deletedCount, err
		}
		if deleted {
			deletedCount++
		}
	}

	return deletedCount, nil
}

func (s *sessionStore) runDelete(ctx context.Context, id int64) (bool, error) {
	keys := []string{
		s.keys.session(id),
		s.keys.sessionInterruptions(id),
		s.keys.createdIndex(),
	}

	n, err := s.delete.Run(ctx, s.client, keys, id, s.keys.interruptionPrefix()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete session %d: %w", id, err)
	}
	return n == 1, nil
}

// loadSessions fetches session hashes for the given IDs in one pipeline
func (s *sessionStore) loadSessions(ctx context.Context, ids []string) ([]storage.Session, error) {
	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.prefix+":session:"+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}

	return sessions, nil
}
