package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goodtune/deepwork/internal/focus"
	"github.com/goodtune/deepwork/internal/metrics"
	"github.com/goodtune/deepwork/internal/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Limits bounds the free-text fields accepted by the machine, in runes.
type Limits struct {
	MaxTitleLength  int
	MaxGoalLength   int
	MaxReasonLength int
}

// DefaultLimits is used for any limit left at zero.
var DefaultLimits = Limits{
	MaxTitleLength:  200,
	MaxGoalLength:   2000,
	MaxReasonLength: 500,
}

// CreateParams holds the caller-supplied fields of a new session.
type CreateParams struct {
	Title             string
	Goal              *string
	ScheduledDuration int
}

// Machine applies lifecycle operations to stored sessions.
//
// Every mutating operation loads the session, decides the next state with a
// pure transition function and commits the result in one storage Change.
type Machine struct {
	store  storage.SessionStore
	clock  Clock
	limits Limits
	logger zerolog.Logger
	tracer trace.Tracer

	evictor Evictor
}

// Evictor drops data derived from a session once it is deleted.
type Evictor interface {
	Forget(id int64)
}

// NewMachine creates a new session state machine
func NewMachine(store storage.SessionStore, clock Clock, limits Limits, logger zerolog.Logger) *Machine {
	if clock == nil {
		clock = RealClock{}
	}
	if limits.MaxTitleLength <= 0 {
		limits.MaxTitleLength = DefaultLimits.MaxTitleLength
	}
	if limits.MaxGoalLength <= 0 {
		limits.MaxGoalLength = DefaultLimits.MaxGoalLength
	}
	if limits.MaxReasonLength <= 0 {
		limits.MaxReasonLength = DefaultLimits.MaxReasonLength
	}

	return &Machine{
		store:  store,
		clock:  clock,
		limits: limits,
		logger: logger.With().Str("component", "session-machine").Logger(),
		tracer: otel.Tracer("github.com/goodtune/deepwork/internal/session"),
	}
}

// SetEvictor registers ev to be told about every deleted session
func (m *Machine) SetEvictor(ev Evictor) {
	m.evictor = ev
}

// Create validates the parameters and stores a new scheduled session
func (m *Machine) Create(ctx context.Context, params CreateParams) (*storage.Session, error) {
	ctx, span := m.tracer.Start(ctx, "session.create")
	defer span.End()

	session, err := m.newSession(params)
	if err != nil {
		metrics.SessionTransitions.WithLabelValues(string(OpCreate), "rejected").Inc()
		span.SetStatus(codes.Error, err.Error())
		m.logger.Debug().Err(err).Msg("Create rejected")
		return nil, err
	}

	if err := m.store.Create(ctx, session); err != nil {
		metrics.SessionTransitions.WithLabelValues(string(OpCreate), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error().Err(err).Msg("Failed to store new session")
		return nil, err
	}

	metrics.SessionTransitions.WithLabelValues(string(OpCreate), "ok").Inc()
	span.SetAttributes(attribute.Int64("session.id", session.ID))
	m.logger.Info().
		Int64("session_id", session.ID).
		Str("title", session.Title).
		Int("scheduled_duration", session.ScheduledDuration).
		Msg("Session created")

	return session, nil
}

func (m *Machine) newSession(params CreateParams) (*storage.Session, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Message: "must not be empty"}
	}
	if n := utf8.RuneCountInString(title); n > m.limits.MaxTitleLength {
		return nil, &ValidationError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", m.limits.MaxTitleLength)}
	}

	var goal *string
	if params.Goal != nil {
		if g := strings.TrimSpace(*params.Goal); g != "" {
			if utf8.RuneCountInString(g) > m.limits.MaxGoalLength {
				return nil, &ValidationError{Field: "goal", Message: fmt.Sprintf("must be at most %d characters", m.limits.MaxGoalLength)}
			}
			goal = &g
		}
	}

	if params.ScheduledDuration <= 0 {
		return nil, &ValidationError{Field: "scheduled_duration", Message: "must be a positive number of minutes"}
	}

	return &storage.Session{
		Title:             title,
		Goal:              goal,
		ScheduledDuration: params.ScheduledDuration,
		Status:            storage.StatusScheduled,
		PauseCount:        0,
		CreatedAt:         m.clock.Now().UTC(),
	}, nil
}

// Start moves a scheduled session to active and records its start time
func (m *Machine) Start(ctx context.Context, id int64) (*storage.Session, error) {
	return m.transition(ctx, OpStart, id, func(current *storage.Session, now time.Time) (*storage.Change, error) {
		next, err := StartTransition(current.Status)
		if err != nil {
			return nil, err
		}

		updated := *current
		updated.Status = next
		updated.StartTime = &now
		return &storage.Change{Session: updated}, nil
	})
}

// Pause opens an interruption on an active session
func (m *Machine) Pause(ctx context.Context, id int64, reason string) (*storage.Session, error) {
	reason = strings.TrimSpace(reason)

	// An unknown session is reported before a bad reason
	return m.transition(ctx, OpPause, id, func(current *storage.Session, now time.Time) (*storage.Change, error) {
		if reason == "" {
			return nil, &ValidationError{Field: "reason", Message: "must not be empty"}
		}
		if utf8.RuneCountInString(reason) > m.limits.MaxReasonLength {
			return nil, &ValidationError{Field: "reason", Message: fmt.Sprintf("must be at most %d characters", m.limits.MaxReasonLength)}
		}

		next, pauseCount, err := PauseTransition(current.Status, current.PauseCount)
		if err != nil {
			return nil, err
		}

		updated := *current
		updated.Status = next
		updated.PauseCount = pauseCount
		return &storage.Change{
			Session: updated,
			Opened: &storage.Interruption{
				SessionID: current.ID,
				Reason:    reason,
				PauseTime: now,
			},
		}, nil
	})
}

// Resume reactivates a paused or abandoned session and closes its open interruption, if any
func (m *Machine) Resume(ctx context.Context, id int64) (*storage.Session, error) {
	return m.transition(ctx, OpResume, id, func(current *storage.Session, now time.Time) (*storage.Change, error) {
		next, err := ResumeTransition(current.Status)
		if err != nil {
			return nil, err
		}

		updated := *current
		updated.Status = next

		change := &storage.Change{Session: updated}

		open, err := m.store.OpenInterruption(ctx, current.ID)
		switch {
		case err == nil:
			closed := *open
			closed.ResumeTime = &now
			change.Closed = &closed
		case errors.Is(err, storage.ErrNotFound):
			// Nothing to close
		default:
			return nil, fmt.Errorf("failed to load open interruption: %w", err)
		}

		return change, nil
	})
}

// Complete ends an active or paused session and decides its final status
func (m *Machine) Complete(ctx context.Context, id int64) (*storage.Session, error) {
	return m.transition(ctx, OpComplete, id, func(current *storage.Session, now time.Time) (*storage.Change, error) {
		elapsed := 0.0
		if current.StartTime != nil {
			elapsed = now.Sub(*current.StartTime).Minutes()
		}

		next, err := CompleteTransition(current.Status, elapsed, current.StartTime != nil, current.ScheduledDuration)
		if err != nil {
			return nil, err
		}

		updated := *current
		updated.Status = next
		updated.EndTime = &now
		return &storage.Change{Session: updated}, nil
	})
}

// Get returns a stored session
func (m *Machine) Get(ctx context.Context, id int64) (*storage.Session, error) {
	session, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, m.mapNotFound(err, id)
	}
	return session, nil
}

// Interruptions returns the interruptions of a session, oldest first
func (m *Machine) Interruptions(ctx context.Context, id int64) ([]storage.Interruption, error) {
	interruptions, err := m.store.Interruptions(ctx, id)
	if err != nil {
		return nil, m.mapNotFound(err, id)
	}
	return interruptions, nil
}

// Delete removes a session together with its interruptions
func (m *Machine) Delete(ctx context.Context, id int64) error {
	ctx, span := m.tracer.Start(ctx, "session.delete", trace.WithAttributes(attribute.Int64("session.id", id)))
	defer span.End()

	if err := m.store.Delete(ctx, id); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return m.mapNotFound(err, id)
	}

	if m.evictor != nil {
		m.evictor.Forget(id)
	}

	m.logger.Info().Int64("session_id", id).Msg("Session deleted")
	return nil
}

type decideFunc func(current *storage.Session, now time.Time) (*storage.Change, error)

// transition runs one load, decide and commit cycle
func (m *Machine) transition(ctx context.Context, op Operation, id int64, decide decideFunc) (*storage.Session, error) {
	ctx, span := m.tracer.Start(ctx, "session."+string(op), trace.WithAttributes(
		attribute.Int64("session.id", id),
		attribute.String("session.operation", string(op)),
	))
	defer span.End()

	current, err := m.store.Get(ctx, id)
	if err != nil {
		err = m.mapNotFound(err, id)
		m.recordFailure(span, op, err)
		return nil, err
	}

	change, err := decide(current, m.clock.Now().UTC())
	if err != nil {
		m.recordFailure(span, op, err)
		m.logger.Debug().
			Int64("session_id", id).
			Str("operation", string(op)).
			Str("status", string(current.Status)).
			Err(err).
			Msg("Transition rejected")
		return nil, err
	}

	if err := m.store.Commit(ctx, change); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			err = &NotFoundError{ID: id}
		case errors.Is(err, storage.ErrConflict):
			m.logger.Warn().
				Int64("session_id", id).
				Str("operation", string(op)).
				Msg("Concurrent modification detected, change discarded")
			err = fmt.Errorf("%s session %d: %w", op, id, err)
		default:
			m.logger.Error().Err(err).Int64("session_id", id).Str("operation", string(op)).Msg("Failed to commit transition")
		}
		m.recordFailure(span, op, err)
		return nil, err
	}

	updated := change.Session
	m.recordSuccess(span, op, current.Status, change)

	m.logger.Info().
		Int64("session_id", id).
		Str("operation", string(op)).
		Str("from", string(current.Status)).
		Str("to", string(updated.Status)).
		Int("pause_count", updated.PauseCount).
		Msg("Session transitioned")

	return &updated, nil
}

func (m *Machine) recordSuccess(span trace.Span, op Operation, from storage.Status, change *storage.Change) {
	to := change.Session.Status

	metrics.SessionTransitions.WithLabelValues(string(op), "ok").Inc()
	if change.Opened != nil {
		metrics.InterruptionsTotal.Inc()
	}
	if from != to && isFinal(to) {
		metrics.SessionsFinished.WithLabelValues(string(to)).Inc()
	}
	if op == OpComplete {
		metrics.FocusScore.Observe(focus.ScoreSession(change.Session))
	}

	span.SetAttributes(
		attribute.String("session.status.from", string(from)),
		attribute.String("session.status.to", string(to)),
	)
}

func (m *Machine) recordFailure(span trace.Span, op Operation, err error) {
	var (
		validationErr *ValidationError
		transitionErr *InvalidTransitionError
		notFoundErr   *NotFoundError
	)

	result := "error"
	switch {
	case errors.As(err, &validationErr), errors.As(err, &transitionErr):
		result = "rejected"
	case errors.As(err, &notFoundErr):
		result = "not_found"
	case errors.Is(err, storage.ErrConflict):
		result = "conflict"
	default:
		span.RecordError(err)
	}

	metrics.SessionTransitions.WithLabelValues(string(op), result).Inc()
	span.SetStatus(codes.Error, err.Error())
}

func (m *Machine) mapNotFound(err error, id int64) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{ID: id}
	}
	return err
}

// isFinal reports whether a status ends a session's active life
func isFinal(status storage.Status) bool {
	switch status {
	case storage.StatusCompleted, storage.StatusAbandoned, storage.StatusOverdue, storage.StatusInterrupted:
		return true
	}
	return false
}
