package focus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/deepwork/internal/metrics"
	"github.com/goodtune/deepwork/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ReportWindow is the look-back period of the weekly report.
const ReportWindow = 7 * 24 * time.Hour

// HistoryEntry is a session annotated with its actual duration.
type HistoryEntry struct {
	storage.Session
	ActualDuration *int `json:"actual_duration"` // whole minutes
}

// HistorySummary counts sessions per final status alongside the full history.
type HistorySummary struct {
	TotalSessions       int            `json:"total_sessions"`
	CompletedSessions   int            `json:"completed_sessions"`
	InterruptedSessions int            `json:"interrupted_sessions"`
	AbandonedSessions   int            `json:"abandoned_sessions"`
	OverdueSessions     int            `json:"overdue_sessions"`
	Sessions            []HistoryEntry `json:"sessions"`
}

// WeeklyReport aggregates the sessions created in the last ReportWindow.
type WeeklyReport struct {
	WeekStart             time.Time              `json:"week_start"`
	TotalSessions         int                    `json:"total_sessions"`
	TotalFocusTime        int                    `json:"total_focus_time"` // minutes
	AverageFocusScore     float64                `json:"average_focus_score"`
	TopInterruptionReason *string                `json:"top_interruption_reason"`
	FocusBreakdown        map[storage.Status]int `json:"focus_breakdown"`
}

// Engine derives read-only metrics from stored sessions.
type Engine struct {
	store  storage.SessionStore
	cache  *lru.Cache[int64, float64]
	logger zerolog.Logger
	tracer trace.Tracer
}

// NewEngine creates a new metrics engine with an LRU of final-session scores
func NewEngine(store storage.SessionStore, cacheSize int, logger zerolog.Logger) (*Engine, error) {
	cache, err := lru.New[int64, float64](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create focus score cache: %w", err)
	}

	return &Engine{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "focus").Logger(),
		tracer: otel.Tracer("github.com/goodtune/deepwork/internal/focus"),
	}, nil
}

// FocusScore returns the focus score of a stored session.
//
// It never fails: a missing session, or a storage error, scores 0.0.
func (e *Engine) FocusScore(ctx context.Context, id int64) float64 {
	ctx, span := e.tracer.Start(ctx, "focus.score", trace.WithAttributes(attribute.Int64("session.id", id)))
	defer span.End()

	if score, ok := e.cache.Get(id); ok {
		// The session may have been deleted by another process sharing the store
		exists, err := e.store.Exists(ctx, id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error().Err(err).Int64("session_id", id).Msg("Failed to check session for cached focus score")
			return 0.0
		}
		if exists {
			metrics.FocusCacheHits.Inc()
			return score
		}
		e.cache.Remove(id)
		return 0.0
	}
	metrics.FocusCacheMisses.Inc()

	session, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Debug().Int64("session_id", id).Msg("Focus score requested for unknown session")
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error().Err(err).Int64("session_id", id).Msg("Failed to load session for focus score")
		}
		return 0.0
	}

	score := ScoreSession(*session)
	if cacheable(session.Status) {
		e.cache.Add(id, score)
	}
	return score
}

// Forget drops any cached score for a session, e.g. after it is deleted.
func (e *Engine) Forget(id int64) {
	e.cache.Remove(id)
}

// Purge drops every cached score.
func (e *Engine) Purge() {
	e.cache.Purge()
}

// History returns every session, newest first, annotated with its actual duration
func (e *Engine) History(ctx context.Context) ([]HistoryEntry, error) {
	ctx, span := e.tracer.Start(ctx, "focus.history")
	defer span.End()

	sessions, err := e.store.List(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	history := make([]HistoryEntry, 0, len(sessions))
	for _, session := range sessions {
		history = append(history, HistoryEntry{
			Session:        session,
			ActualDuration: ActualDuration(session),
		})
	}
	return history, nil
}

// HistorySummary returns the history together with per-status totals
func (e *Engine) HistorySummary(ctx context.Context) (*HistorySummary, error) {
	history, err := e.History(ctx)
	if err != nil {
		return nil, err
	}

	summary := &HistorySummary{
		TotalSessions: len(history),
		Sessions:      history,
	}
	for _, entry := range history {
		switch entry.Status {
		case storage.StatusCompleted:
			summary.CompletedSessions++
		case storage.StatusInterrupted:
			summary.InterruptedSessions++
		case storage.StatusAbandoned:
			summary.AbandonedSessions++
		case storage.StatusOverdue:
			summary.OverdueSessions++
		}
	}
	return summary, nil
}

// WeeklyReport aggregates sessions created at or after now minus ReportWindow
func (e *Engine) WeeklyReport(ctx context.Context, now time.Time) (*WeeklyReport, error) {
	ctx, span := e.tracer.Start(ctx, "focus.weekly_report")
	defer span.End()

	weekStart := now.UTC().Add(-ReportWindow)
	report := &WeeklyReport{
		WeekStart:      weekStart,
		FocusBreakdown: map[storage.Status]int{},
	}

	sessions, err := e.store.ListCreatedSince(ctx, weekStart)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list sessions since %s: %w", weekStart.Format(time.RFC3339), err)
	}

	if len(sessions) == 0 {
		return report, nil
	}

	var (
		scoreSum float64
		reasons  reasonCounter
	)

	for _, session := range sessions {
		if d := ActualDuration(session); d != nil {
			report.TotalFocusTime += *d
		}
		scoreSum += ScoreSession(session)
		report.FocusBreakdown[session.Status]++

		interruptions, err := e.store.Interruptions(ctx, session.ID)
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted since it was listed
			continue
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to list interruptions for session %d: %w", session.ID, err)
		}
		for _, interruption := range interruptions {
			reasons.add(interruption.Reason)
		}
	}

	report.TotalSessions = len(sessions)
	report.AverageFocusScore = round2(scoreSum / float64(len(sessions)))
	report.TopInterruptionReason = reasons.top()

	span.SetAttributes(attribute.Int("report.total_sessions", report.TotalSessions))
	e.logger.Debug().
		Int("total_sessions", report.TotalSessions).
		Int("total_focus_time", report.TotalFocusTime).
		Float64("average_focus_score", report.AverageFocusScore).
		Msg("Weekly report computed")

	return report, nil
}

// reasonCounter tallies reasons, remembering the order each was first seen.
type reasonCounter struct {
	counts map[string]int
	order  []string
}

func (c *reasonCounter) add(reason string) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	if _, seen := c.counts[reason]; !seen {
		c.order = append(c.order, reason)
	}
	c.counts[reason]++
}

// top returns the most frequent reason; ties go to the one seen first.
func (c *reasonCounter) top() *string {
	var (
		best  string
		count int
	)
	for _, reason := range c.order {
		if c.counts[reason] > count {
			best = reason
			count = c.counts[reason]
		}
	}
	if count == 0 {
		return nil
	}
	return &best
}
