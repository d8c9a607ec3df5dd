package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/deepwork/internal/metrics"
	"github.com/goodtune/deepwork/internal/session"
	"github.com/goodtune/deepwork/internal/storage"
	"github.com/rs/zerolog"
)

// Purger drops cached data derived from sessions that no longer exist.
type Purger interface {
	Purge()
}

// Scheduler deletes old sessions once a day
type Scheduler struct {
	store    storage.SessionStore
	cache    Purger
	maxAge   time.Duration
	runTime  time.Time // Time of day to run (only hour and minute are used)
	clock    session.Clock
	logger   zerolog.Logger
	stopChan chan struct{}
}

// NewScheduler creates a new retention scheduler
func NewScheduler(store storage.SessionStore, cache Purger, maxAgeDays int, runTime string, clock session.Clock, logger zerolog.Logger) (*Scheduler, error) {
	if maxAgeDays <= 0 {
		return nil, fmt.Errorf("max age must be positive: %d days", maxAgeDays)
	}

	// Parse run time (HH:MM format)
	parsedTime, err := time.Parse("15:04", runTime)
	if err != nil {
		return nil, err
	}

	if clock == nil {
		clock = session.RealClock{}
	}

	return &Scheduler{
		store:    store,
		cache:    cache,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		runTime:  parsedTime,
		clock:    clock,
		logger:   logger.With().Str("component", "retention").Logger(),
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins the retention scheduler
func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info().
		Str("run_time", s.runTime.Format("15:04")).
		Dur("max_age", s.maxAge).
		Msg("Session retention scheduler started")
}

// Stop stops the retention scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.logger.Info().Msg("Session retention scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	for {
		nextRun := s.nextRun(time.Now())
		waitDuration := time.Until(nextRun)

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next retention run")

		select {
		case <-time.After(waitDuration):
			if _, err := s.RunOnce(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("Retention run failed")
			}
		case <-s.stopChan:
			return
		}
	}
}

// nextRun calculates the next run time after now, in now's location
func (s *Scheduler) nextRun(now time.Time) time.Time {
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		s.runTime.Hour(), s.runTime.Minute(), 0, 0,
		now.Location(),
	)

	// If we've already passed today's run time, schedule for tomorrow
	if now.After(today) {
		return today.AddDate(0, 0, 1)
	}

	return today
}

// RunOnce deletes sessions created before now minus the max age
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-s.maxAge)

	s.logger.Info().Time("cutoff", cutoff).Msg("Removing old sessions")

	deleted, err := s.store.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if deleted > 0 && s.cache != nil {
		s.cache.Purge()
	}
	metrics.RetentionDeleted.Add(float64(deleted))

	s.logger.Info().
		Int("sessions_deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Retention run complete")

	return deleted, nil
}
