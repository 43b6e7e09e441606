// Package tracker runs the per-second usage timer for the monitored site
// currently in the foreground.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/ledger"
	"github.com/goodtune/sitewarden/internal/lockstate"
	"github.com/goodtune/sitewarden/internal/metrics"
	"github.com/goodtune/sitewarden/internal/notify"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/goodtune/sitewarden/internal/timewindow"
)

// Tracker owns at most one live timer at a time: the user can only be on one
// foreground page, so starting a timer always stops the previous one.
type Tracker struct {
	ledger   *ledger.Ledger
	machine  *lockstate.Machine
	timeLock storage.TimeLockStore
	policy   storage.PolicyStore
	hub      *notify.Hub
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	current *timer
}

// timer is one running tracking session. Usage is credited by re-deriving
// elapsed whole seconds from the start timestamp on every tick, so a stalled
// or suspended process credits the full gap on the next tick instead of
// losing it.
type timer struct {
	site          storage.Site
	startedAt     time.Time
	credited      int64
	graceSeconds  int64
	pendingReason lockstate.Reason
	cancel        context.CancelFunc
	done          chan struct{}
}

// New creates a tracker. The interval controls tick frequency; production
// uses one second.
func New(
	ldg *ledger.Ledger,
	machine *lockstate.Machine,
	timeLock storage.TimeLockStore,
	policy storage.PolicyStore,
	hub *notify.Hub,
	clk clock.Clock,
	interval time.Duration,
	logger zerolog.Logger,
) *Tracker {
	return &Tracker{
		ledger:   ldg,
		machine:  machine,
		timeLock: timeLock,
		policy:   policy,
		hub:      hub,
		clock:    clk,
		interval: interval,
		logger:   logger.With().Str("component", "tracker").Logger(),
	}
}

// Start begins tracking a site, stopping any previously running timer first.
func (t *Tracker) Start(ctx context.Context, site storage.Site) error {
	t.StopAll()

	pol, err := t.policy.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		def := storage.DefaultGlobalPolicy()
		pol = &def
	} else if err != nil {
		return err
	}

	timerCtx, cancel := context.WithCancel(context.Background())
	tm := &timer{
		site:         site,
		startedAt:    t.clock.Now(),
		graceSeconds: pol.PendingGraceSeconds,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	t.mu.Lock()
	t.current = tm
	t.mu.Unlock()

	metrics.ActiveTimers.Inc()
	t.logger.Debug().Str("domain", site.Domain).Msg("Timer started")

	go t.run(timerCtx, tm)
	return nil
}

// Stop stops the timer for a domain if it is the one running. Returns true
// if a timer was stopped.
func (t *Tracker) Stop(domain string) bool {
	t.mu.Lock()
	tm := t.current
	if tm == nil || tm.site.Domain != domain {
		t.mu.Unlock()
		return false
	}
	t.current = nil
	t.mu.Unlock()

	t.stopTimer(tm)
	return true
}

// StopAll stops the running timer, if any.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	tm := t.current
	t.current = nil
	t.mu.Unlock()

	if tm != nil {
		t.stopTimer(tm)
	}
}

func (t *Tracker) stopTimer(tm *timer) {
	tm.cancel()
	<-tm.done

	// Credit any whole seconds accrued since the last tick.
	t.credit(context.Background(), tm)

	metrics.ActiveTimers.Dec()
	t.logger.Debug().
		Str("domain", tm.site.Domain).
		Int64("credited_seconds", tm.credited).
		Msg("Timer stopped")
}

// Current returns the domain being tracked, if any.
func (t *Tracker) Current() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return "", false
	}
	return t.current.site.Domain, true
}

// IsTracking reports whether the given domain has the live timer.
func (t *Tracker) IsTracking(domain string) bool {
	cur, ok := t.Current()
	return ok && cur == domain
}

func (t *Tracker) run(ctx context.Context, tm *timer) {
	defer close(tm.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.tick(ctx, tm) {
				t.detach(tm)
				return
			}
		}
	}
}

// detach removes a self-stopped timer from the registry without waiting on
// its own done channel.
func (t *Tracker) detach(tm *timer) {
	t.mu.Lock()
	removed := t.current == tm
	if removed {
		t.current = nil
	}
	t.mu.Unlock()

	// If Stop already claimed this timer it also owns the gauge decrement.
	if removed {
		metrics.ActiveTimers.Dec()
	}
}

// credit adds any uncredited whole seconds since the timer started.
func (t *Tracker) credit(ctx context.Context, tm *timer) {
	elapsed := int64(t.clock.Now().Sub(tm.startedAt).Seconds())
	delta := elapsed - tm.credited
	if delta <= 0 {
		return
	}

	if _, err := t.ledger.Increment(ctx, tm.site.Domain, delta); err != nil {
		t.logger.Error().Err(err).Str("domain", tm.site.Domain).Msg("Failed to record usage")
		return
	}
	tm.credited = elapsed
}

// tick credits elapsed time and evaluates lock conditions. Returns false
// when the timer should stop. The domain lock is held across the whole
// read-decide-write sequence so a tick never races a grant or a reset on the
// same record.
func (t *Tracker) tick(ctx context.Context, tm *timer) bool {
	unlock := t.machine.Locks().Lock(tm.site.Domain)
	defer unlock()

	t.credit(ctx, tm)

	rec, err := t.ledger.Get(ctx, tm.site.Domain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Record vanished, most likely a daily reset mid-session.
			t.logger.Info().Str("domain", tm.site.Domain).Msg("Usage record gone, stopping timer")
			return false
		}
		t.logger.Error().Err(err).Str("domain", tm.site.Domain).Msg("Failed to load usage record")
		return true
	}

	switch rec.Status {
	case storage.StatusLocked:
		return false

	case storage.StatusPending:
		if t.machine.GraceElapsed(rec, tm.graceSeconds) {
			reason := tm.pendingReason
			if reason == "" {
				reason = lockstate.ReasonTimeLimit
			}
			if err := t.machine.ToLocked(ctx, rec, reason); err != nil {
				t.logger.Error().Err(err).Str("domain", rec.Domain).Msg("Failed to lock after grace")
				return true
			}
			t.hub.Publish(notify.Event{
				Type:   notify.EventLocked,
				Domain: rec.Domain,
				Reason: string(reason),
				At:     t.clock.Now(),
			})
			return false
		}
		return true

	case storage.StatusActive:
		// Scheduled windows take precedence over the budget.
		if reason, ok := t.lockReason(ctx, tm, rec); ok {
			if err := t.machine.ToPending(ctx, rec, reason); err != nil {
				t.logger.Error().Err(err).Str("domain", rec.Domain).Msg("Failed to start grace period")
				return true
			}
			tm.pendingReason = reason
			t.hub.Publish(notify.Event{
				Type:         notify.EventPendingLock,
				Domain:       rec.Domain,
				Reason:       string(reason),
				GraceSeconds: tm.graceSeconds,
				At:           t.clock.Now(),
			})
		}
		return true
	}

	return true
}

// lockReason reports whether an active record should enter its grace period,
// checking the window schedule before the daily budget.
func (t *Tracker) lockReason(ctx context.Context, tm *timer, rec *storage.DayUsage) (lockstate.Reason, bool) {
	if !rec.TimeLockExemptToday {
		tlp, err := t.timeLock.Get(ctx)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			t.logger.Error().Err(err).Msg("Failed to load window policy")
		}
		if err == nil && tlp.Enabled && timewindow.IsWithinAny(tlp.Windows, t.clock.Now()) {
			return lockstate.ReasonTimeLock, true
		}
	}

	if rec.UsedSeconds >= tm.site.DailyLimitSeconds {
		return lockstate.ReasonTimeLimit, true
	}
	return "", false
}
