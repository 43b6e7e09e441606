// Package reset runs the once-a-day rollover: every monitored domain gets a
// fresh budget and the global emergency-restart allowance is released.
package reset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/lockstate"
	"github.com/goodtune/sitewarden/internal/metrics"
	"github.com/goodtune/sitewarden/internal/notify"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/goodtune/sitewarden/internal/timewindow"
)

// Scheduler fires the daily reset at a configured wall-clock time and prunes
// usage records past their retention.
type Scheduler struct {
	usage         storage.UsageStore
	policy        storage.PolicyStore
	hub           *notify.Hub
	clock         clock.Clock
	locks         *lockstate.DomainLocks
	resetTime     string // HH:MM
	retentionDays int
	logger        zerolog.Logger
}

// New creates a reset scheduler. resetTime is HH:MM local time. locks is the
// per-domain lock set shared with the state machine's callers so a reset
// never interleaves with a tick or a grant on the same record.
func New(
	usage storage.UsageStore,
	policy storage.PolicyStore,
	hub *notify.Hub,
	clk clock.Clock,
	resetTime string,
	retentionDays int,
	locks *lockstate.DomainLocks,
	logger zerolog.Logger,
) (*Scheduler, error) {
	if _, err := timewindow.ParseMinutes(resetTime); err != nil {
		return nil, fmt.Errorf("invalid reset time: %w", err)
	}
	return &Scheduler{
		usage:         usage,
		policy:        policy,
		hub:           hub,
		clock:         clk,
		locks:         locks,
		resetTime:     resetTime,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "reset").Logger(),
	}, nil
}

// Start runs the scheduler until the context is cancelled. The next fire
// time is recomputed after every run, so a machine waking from sleep fires
// at most once for the missed slot.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		for {
			next := s.nextRun(s.clock.Now())
			s.logger.Info().Time("next_reset", next).Msg("Daily reset scheduled")

			timer := time.NewTimer(next.Sub(s.clock.Now()))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if err := s.RunNow(ctx); err != nil {
					s.logger.Error().Err(err).Msg("Daily reset failed")
				}
			}
		}
	}()
}

// nextRun returns the next occurrence of the reset time strictly after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	minutes, _ := timewindow.ParseMinutes(s.resetTime)
	next := time.Date(now.Year(), now.Month(), now.Day(), minutes/60, minutes%60, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunNow performs one reset: zeroes every record for the current day,
// releases the global emergency-restart allowance, and prunes old records.
// Running it twice in a row is harmless.
func (s *Scheduler) RunNow(ctx context.Context) error {
	now := s.clock.Now()
	today := clock.DateKey(now)

	records, err := s.usage.ListByDate(ctx, today)
	if err != nil {
		return fmt.Errorf("list today's records: %w", err)
	}

	for _, rec := range records {
		unlock := s.locks.Lock(rec.Domain)
		fresh := storage.NewDayUsage(rec.Domain, today, now)
		err := s.usage.Put(ctx, fresh)
		unlock()
		if err != nil {
			return fmt.Errorf("reset record for %s: %w", rec.Domain, err)
		}
	}

	if err := s.policy.ClearEmergencyRestart(ctx); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("release emergency restart: %w", err)
	}

	pruned := 0
	if s.retentionDays > 0 {
		cutoff := clock.DateKey(now.AddDate(0, 0, -s.retentionDays))
		pruned, err = s.usage.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune old records: %w", err)
		}
	}

	metrics.DailyResetsTotal.Inc()
	metrics.RecordsResetTotal.Add(float64(len(records)))

	s.hub.Publish(notify.Event{Type: notify.EventDailyReset, At: now})
	s.logger.Info().
		Int("records_reset", len(records)).
		Int("records_pruned", pruned).
		Msg("Daily reset complete")

	return nil
}
