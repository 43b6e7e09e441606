// Package ledger is the single source of truth for how much of a day's
// budget a domain has consumed.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/metrics"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/rs/zerolog"
)

// Ledger maintains per-domain, per-day usage counters.
type Ledger struct {
	store  storage.UsageStore
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a ledger over the given usage store.
func New(store storage.UsageStore, clk clock.Clock, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		clock:  clk,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Today returns the current calendar-day key.
func (l *Ledger) Today() string {
	return clock.DateKey(l.clock.Now())
}

// GetOrCreate returns the domain's record for today, creating it with
// defaults on first navigation of the day.
func (l *Ledger) GetOrCreate(ctx context.Context, domain string) (*storage.DayUsage, error) {
	today := l.Today()

	rec, err := l.store.Get(ctx, domain, today)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get usage record: %w", err)
	}

	fresh := storage.NewDayUsage(domain, today, l.clock.Now())
	if err := l.store.Put(ctx, fresh); err != nil {
		return nil, fmt.Errorf("create usage record: %w", err)
	}

	l.logger.Debug().
		Str("domain", domain).
		Str("date", today).
		Msg("Created usage record")

	return &fresh, nil
}

// Get returns the domain's record for today, or storage.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, domain string) (*storage.DayUsage, error) {
	return l.store.Get(ctx, domain, l.Today())
}

// Increment adds seconds to the domain's counter for today via the tracking
// path and returns the new total.
func (l *Ledger) Increment(ctx context.Context, domain string, seconds int64) (int64, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("increment must be non-negative, got %d", seconds)
	}
	total, err := l.store.IncrementUsed(ctx, domain, l.Today(), seconds)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	metrics.TrackedSecondsTotal.WithLabelValues(domain).Add(float64(seconds))
	return total, nil
}

// Adjust applies a signed grant adjustment to the domain's counter, clamped
// at zero, and returns the new total.
func (l *Ledger) Adjust(ctx context.Context, domain string, delta int64) (int64, error) {
	total, err := l.store.AdjustUsed(ctx, domain, l.Today(), delta)
	if err != nil {
		return 0, fmt.Errorf("adjust usage: %w", err)
	}
	return total, nil
}

// Remaining computes the seconds of budget left for a site given its current
// record. May be negative transiently, before a grant applies.
func Remaining(site *storage.Site, rec *storage.DayUsage) int64 {
	return site.DailyLimitSeconds - rec.UsedSeconds
}

// WeeklyUsage sums the domain's recorded seconds over the last seven days,
// including today.
func (l *Ledger) WeeklyUsage(ctx context.Context, domain string) (int64, error) {
	since := clock.DateKey(l.clock.Now().AddDate(0, 0, -6))
	records, err := l.store.ListByDomainSince(ctx, domain, since)
	if err != nil {
		return 0, fmt.Errorf("list weekly usage: %w", err)
	}
	var total int64
	for _, rec := range records {
		total += rec.UsedSeconds
	}
	return total, nil
}
